package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/koopa0/system-design/coop-platformer/internal/cache"
	"github.com/skip2/go-qrcode"
)

// DefaultQRSize 手機掃描友善的尺寸（像素）
const DefaultQRSize = 320

// QRRenderer 產生加入房間用的 QR code PNG。
//
// 同一房間的 QR code 會被主機畫面反覆請求，以快取避免重複編碼。
type QRRenderer struct {
	cache cache.Cache
	size  int
}

// NewQRRenderer 建立 QR code 產生器
func NewQRRenderer(c cache.Cache, size int) *QRRenderer {
	if size <= 0 {
		size = DefaultQRSize
	}
	return &QRRenderer{cache: c, size: size}
}

// PNG 將內容編碼為 PNG。
func (q *QRRenderer) PNG(content string) ([]byte, error) {
	if v, ok := q.cache.Get(content); ok {
		if png, ok := v.([]byte); ok {
			return png, nil
		}
	}

	png, err := qrcode.Encode(content, qrcode.Medium, q.size)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	q.cache.Add(content, png)
	return png, nil
}

// Forget 房間關閉後移除快取。
func (q *QRRenderer) Forget(content string) {
	q.cache.Delete(content)
}

// JoinURL 玩家加入房間的網址，例如 http://192.168.1.20:3000/?room=1234
func JoinURL(base, code string) string {
	return strings.TrimRight(base, "/") + "/?" + url.Values{"room": {code}}.Encode()
}

// requestBaseURL 依請求推導對外網址（遵循 TLS 與 X-Forwarded-Proto）。
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
