package form

// Binding は1フィールドと Controller の結び付き。
type Binding struct {
	c    *Controller
	name string
}

// Name はフィールド名を返す。
func (b *Binding) Name() string {
	return b.name
}

// Value は現在の入力値を返す。
func (b *Binding) Value() string {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	return b.c.values[b.name]
}

// Error はフィールドのエラーメッセージを返す。エラーがない場合は空文字列。
func (b *Binding) Error() string {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	return b.c.errors[b.name]
}

// Set は入力値を更新する。
// すでにエラーが表示されているフィールドはその場で再検証する。
// 終端状態（成功/失敗）にあるフォームはIdleに戻る。
func (b *Binding) Set(value string) {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()

	b.c.values[b.name] = value
	if _, shown := b.c.errors[b.name]; shown {
		if msg := b.c.schema.ValidateField(b.name, value); msg != "" {
			b.c.errors[b.name] = msg
		} else {
			delete(b.c.errors, b.name)
		}
	}
	b.c.leaveTerminal()
}
