// Package avatar はアバター画像ファイルの検査と、ストレージ上のオブジェクトパスの規約を扱う。
package avatar

import (
	"io"
	"strings"

	"github.com/google/uuid"
)

// MaxSize はアバター画像の最大サイズ（2MiB）。
const MaxSize int64 = 2 * 1024 * 1024

// ファイル検査のメッセージ
const (
	MsgNoFile      = "画像をアップロードしてください"
	MsgTooLarge    = "ファイルサイズが2MBを超えています"
	MsgUnsupported = "ファイル形式がjpegまたはpngではありません"
)

// 受け付ける画像形式
var acceptedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// File はアップロード対象として選択された画像ファイル。
// ContentTypeはブラウザが申告したMIMEタイプ。
type File struct {
	Filename    string
	Size        int64
	ContentType string
	Content     io.Reader
}

// Check はファイルがアバターとして受け付けられるか検査し、問題があればメッセージを返す。
// 問題がなければ空文字列を返す。副作用はなく、同じファイルには常に同じ結果を返す。
func Check(f *File) string {
	if f == nil {
		return MsgNoFile
	}
	if f.Size > MaxSize {
		return MsgTooLarge
	}
	if !acceptedTypes[f.ContentType] {
		return MsgUnsupported
	}
	return ""
}

// NewObjectPath はユーザーごとの名前空間に、ランダムなトークンで新しいオブジェクトパスを生成する。
func NewObjectPath(userID string) string {
	return userID + "/" + uuid.NewString()
}

// ObjectPathFromURL は公開URLから、そのオブジェクトのパスを組み立てる。
// URLの最後のセグメントをユーザーの名前空間内のオブジェクト名とみなす。
// URLが空の場合はokにfalseを返す。
func ObjectPathFromURL(userID, publicURL string) (string, bool) {
	u := strings.TrimSpace(publicURL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimRight(u, "/")
	if u == "" {
		return "", false
	}
	name := u[strings.LastIndex(u, "/")+1:]
	if name == "" {
		return "", false
	}
	return userID + "/" + name, true
}
