// Package shutdown 處理程序的中斷信號。
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InterruptContext 回傳在收到任一指定信號時取消的 context。
func InterruptContext(ctx context.Context, signals ...os.Signal) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)

	go func() {
		defer signal.Stop(ch)
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// New 監聽 SIGINT / SIGTERM。
func New() (context.Context, context.CancelFunc) {
	return InterruptContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
