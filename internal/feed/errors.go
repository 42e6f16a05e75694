package feed

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	ErrAlreadyStarted = errors.New("feed client already started")
	ErrClosed         = errors.New("feed client closed")
)

// FetchError 初始快照拉取失败（传输错误或非 2xx）。不会自动重试。
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch snapshot %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch snapshot %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// StreamTransportError 流式链路的拨号/读取失败，由重连状态机恢复。
type StreamTransportError struct {
	Op  string // dial / read
	URL string
	Err error
}

func (e *StreamTransportError) Error() string {
	return fmt.Sprintf("stream %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *StreamTransportError) Unwrap() error { return e.Err }

// MessageDecodeError 无法解析的帧，丢弃并保留上一份快照。
type MessageDecodeError struct {
	Size int
	Err  error
}

func (e *MessageDecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %v", e.Size, e.Err)
}

func (e *MessageDecodeError) Unwrap() error { return e.Err }

// isResourceExhausted 连接根本无法分配时视为致命错误。
func isResourceExhausted(err error) bool {
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ENOMEM) ||
		errors.Is(err, syscall.ENOBUFS)
}
