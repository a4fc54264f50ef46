// Package validation はフォーム入力値の宣言的な検証ルールを提供する。
// 検証は同期的に行われ、入力値を書き換えることはない。
package validation

import (
	"net/mail"
	"strings"
	"unicode/utf8"
)

// Errors はフィールド名から最初に失敗したルールのメッセージへの対応を表す。
type Errors map[string]string

// HasErrors はエラーが1件以上あるかどうかを返す。
func (e Errors) HasErrors() bool {
	return len(e) > 0
}

// Rule は1つの検証ルール。
// 値が有効な場合は空文字列、無効な場合はユーザー向けのメッセージを返す。
type Rule func(value string) string

// Field はフィールド名とそのルール列の組。
type Field struct {
	Name  string
	Rules []Rule
}

// Schema はフィールドごとの検証ルールの集合。
// フィールドは宣言順に評価される。
type Schema struct {
	fields []Field
}

// NewSchema はSchemaを生成する。
func NewSchema(fields ...Field) Schema {
	return Schema{fields: fields}
}

// Fields はスキーマに含まれるフィールド名を宣言順に返す。
func (s Schema) Fields() []string {
	names := make([]string, 0, len(s.fields))
	for _, f := range s.fields {
		names = append(names, f.Name)
	}
	return names
}

// ValidateField は1フィールドを検証し、最初に失敗したルールのメッセージを返す。
// スキーマに存在しないフィールドは常に有効とみなす。
func (s Schema) ValidateField(name, value string) string {
	for _, f := range s.fields {
		if f.Name != name {
			continue
		}
		for _, rule := range f.Rules {
			if msg := rule(value); msg != "" {
				return msg
			}
		}
	}
	return ""
}

// Validate は値の集合全体を検証する。
// 値が存在しないフィールドは空文字列として扱う。
func (s Schema) Validate(values map[string]string) Errors {
	errs := make(Errors)
	for _, f := range s.fields {
		if msg := s.ValidateField(f.Name, values[f.Name]); msg != "" {
			errs[f.Name] = msg
		}
	}
	return errs
}

// MinLength は文字数がn以上であることを要求する。文字数はUnicodeの文字単位で数える。
func MinLength(n int, message string) Rule {
	return func(value string) string {
		if utf8.RuneCountInString(value) < n {
			return message
		}
		return ""
	}
}

// MaxLength は文字数がn以下であることを要求する。
func MaxLength(n int, message string) Rule {
	return func(value string) string {
		if utf8.RuneCountInString(value) > n {
			return message
		}
		return ""
	}
}

// Email はメールアドレスの形式であることを要求する。
// 表示名付きの形式（"Name <a@b.c>"）や前後の空白は受け付けない。
func Email(message string) Rule {
	return func(value string) string {
		if value == "" || strings.TrimSpace(value) != value {
			return message
		}
		addr, err := mail.ParseAddress(value)
		if err != nil || addr.Address != value || addr.Name != "" {
			return message
		}
		at := strings.LastIndex(value, "@")
		if at <= 0 || !strings.Contains(value[at+1:], ".") || strings.HasSuffix(value, ".") {
			return message
		}
		return ""
	}
}
