package otp

import "strings"

// Entry はOTP入力欄6マスの入力状態を表す。
// 入力すると次のマスへ、空のマスでバックスペースすると前のマスへフォーカスが移る。
type Entry struct {
	slots [CodeLength]string
	focus int
}

// NewEntry は空のEntryを生成する。
func NewEntry() *Entry {
	return &Entry{}
}

// EntryFromDigits はマスごとの入力値からEntryを組み立てる。
// 7つ目以降の値は無視する。
func EntryFromDigits(digits []string) *Entry {
	e := NewEntry()
	for i, d := range digits {
		if i >= CodeLength {
			break
		}
		e.Input(i, d)
	}
	return e
}

// Input は index 番目のマスに値を入れる。
// 値は先頭1文字だけを使う。値が空でなければフォーカスを次へ進める。
func (e *Entry) Input(index int, value string) {
	if index < 0 || index >= CodeLength {
		return
	}
	value = strings.TrimSpace(value)
	if len(value) > 1 {
		value = value[:1]
	}
	e.slots[index] = value
	if value != "" && index < CodeLength-1 {
		e.focus = index + 1
	} else {
		e.focus = index
	}
}

// Backspace は index 番目のマスでのバックスペースを処理する。
// マスが空なら前のマスへフォーカスを戻し、空でなければ値を消す。
func (e *Entry) Backspace(index int) {
	if index < 0 || index >= CodeLength {
		return
	}
	if e.slots[index] == "" {
		if index > 0 {
			e.focus = index - 1
		}
		return
	}
	e.slots[index] = ""
	e.focus = index
}

// Focus は現在フォーカスのあるマスの位置を返す。
func (e *Entry) Focus() int {
	return e.focus
}

// Code は全マスを連結したコードを返す。
func (e *Entry) Code() string {
	return strings.Join(e.slots[:], "")
}

// Complete は6マスすべてに数字が入っているかを返す。
// false の間は検証操作を行えない。
func (e *Entry) Complete() bool {
	return ValidCode(e.Code())
}

// Reset は全マスを空にする。
func (e *Entry) Reset() {
	e.slots = [CodeLength]string{}
	e.focus = 0
}
