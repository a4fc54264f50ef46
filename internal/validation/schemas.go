package validation

// 検証メッセージ
const (
	MsgSignupName       = "名前を入力してください 6文字以上"
	MsgEmail            = "メールアドレスの形式で入力してください"
	MsgPassword         = "パスワードは8文字以上で入力してください"
	MsgProfileName      = "2文字以上で入力してください"
	MsgProfileIntroduce = "140文字以内で入力してください"
)

// フィールド名
const (
	FieldName      = "name"
	FieldEmail     = "email"
	FieldPassword  = "password"
	FieldIntroduce = "introduce"
)

// IntroduceMaxLength は自己紹介の最大文字数。
const IntroduceMaxLength = 140

// SignupSchema はサインアップフォームの検証ルール。
// 名前の最小文字数はプロフィール編集とは独立に6文字とする。
func SignupSchema() Schema {
	return NewSchema(
		Field{Name: FieldName, Rules: []Rule{MinLength(6, MsgSignupName)}},
		Field{Name: FieldEmail, Rules: []Rule{Email(MsgEmail)}},
		Field{Name: FieldPassword, Rules: []Rule{MinLength(8, MsgPassword)}},
	)
}

// LoginSchema はログインフォームの検証ルール。
func LoginSchema() Schema {
	return NewSchema(
		Field{Name: FieldEmail, Rules: []Rule{Email(MsgEmail)}},
		Field{Name: FieldPassword, Rules: []Rule{MinLength(8, MsgPassword)}},
	)
}

// ProfileSchema はプロフィール編集フォームの検証ルール。
// 自己紹介は任意入力で、最大140文字。
func ProfileSchema() Schema {
	return NewSchema(
		Field{Name: FieldName, Rules: []Rule{MinLength(2, MsgProfileName)}},
		Field{Name: FieldIntroduce, Rules: []Rule{MaxLength(IntroduceMaxLength, MsgProfileIntroduce)}},
	)
}
