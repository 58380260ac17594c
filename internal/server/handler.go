// Package server 提供 HTTP 路由與 WebSocket 連線層。
package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/koopa0/system-design/coop-platformer/internal/config"
	"github.com/koopa0/system-design/coop-platformer/internal/room"
	"go.uber.org/zap"
)

// HandlerOptions HTTP 層設定
type HandlerOptions struct {
	SocketServerURL string // /api/config 回傳給前端；空字串表示與頁面同源
	StaticDir       string // 靜態檔案根目錄，空字串表示不提供
	PublicBaseURL   string // QR code 內的網址前綴，空字串表示依請求推導
}

// HandlerOptionsFromConfig 由服務配置取出 HTTP 層設定。
func HandlerOptionsFromConfig(cfg config.Config) HandlerOptions {
	opts := HandlerOptions{
		SocketServerURL: cfg.SocketServerURL,
		StaticDir:       cfg.StaticDir,
	}
	if cfg.PublicHost != "" {
		opts.PublicBaseURL = fmt.Sprintf("http://%s:%d", cfg.PublicHost, cfg.Port)
	}
	return opts
}

// Handler HTTP 請求處理器
type Handler struct {
	manager *room.Manager
	hub     *Hub
	qr      *QRRenderer
	opts    HandlerOptions
	logger  *zap.SugaredLogger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(manager *room.Manager, hub *Hub, qr *QRRenderer, opts HandlerOptions, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		manager: manager,
		hub:     hub,
		qr:      qr,
		opts:    opts,
		logger:  logger.Named("http"),
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// 中間件鏈
	r.Use(h.recoverer, h.loggerMiddleware)

	r.Get("/ws", h.hub.ServeWS)

	// 健康檢查
	r.Get("/health", h.health)
	r.Get("/stats", h.stats)

	r.Get("/api/config", h.socketConfig)
	r.Route("/api/rooms/{code}", func(r chi.Router) {
		r.Get("/", h.getRoom)
		r.Get("/qr", h.roomQR)
	})

	if h.opts.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(h.opts.StaticDir)))
	}

	return r
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"rooms":       h.manager.Stats(),
		"connections": h.hub.ConnectionCount(),
	}, http.StatusOK)
}

// socketConfig 前端取得 WebSocket 伺服器位址
func (h *Handler) socketConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "s-maxage=60, stale-while-revalidate")
	h.jsonResponse(w, map[string]string{
		"socketUrl": h.opts.SocketServerURL,
	}, http.StatusOK)
}

// getRoom 房間快照
func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	snap, err := h.manager.LookupRoom(code)
	if err != nil {
		h.errorResponse(w, "房間不存在", http.StatusNotFound)
		return
	}

	h.jsonResponse(w, snap, http.StatusOK)
}

// roomQR 房間加入連結的 QR code
func (h *Handler) roomQR(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	base := h.opts.PublicBaseURL
	if base == "" {
		base = requestBaseURL(r)
	}
	link := JoinURL(base, code)

	if !h.manager.Exists(code) {
		h.qr.Forget(link)
		h.errorResponse(w, "房間不存在", http.StatusNotFound)
		return
	}

	png, err := h.qr.PNG(link)
	if err != nil {
		h.logger.Errorw("產生 QR code 失敗", "room", code, "error", err)
		h.errorResponse(w, "QR code 產生失敗", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(png); err != nil {
		h.logger.Debugw("寫入 QR code 失敗", "room", code, "error", err)
	}
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Errorw("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(ww, r)

		// WebSocket 連線的生命週期由 Hub 記錄
		if ww.hijacked {
			return
		}
		h.logger.Debugw("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	})
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				h.logger.Errorw("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	hijacked   bool
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack WebSocket 升級需要取得底層連線
func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		w.hijacked = true
		w.statusCode = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}
