package mutation

import (
	"errors"
	"sync/atomic"

	"boardsync/internal/models"
)

// Toast is a transient user-visible message.
type Toast struct {
	Operation string
	Code      string
	Message   string
}

// Toaster receives transient messages produced by failed mutations.
type Toaster interface {
	Toast(t Toast)
}

// ToasterFunc adapts a function to Toaster.
type ToasterFunc func(Toast)

func (f ToasterFunc) Toast(t Toast) { f(t) }

type discardToaster struct{}

func (discardToaster) Toast(Toast) {}

// ToastQueue is a buffered Toaster. When the buffer is full new toasts are
// dropped so that a slow UI never blocks a mutation.
type ToastQueue struct {
	ch      chan Toast
	dropped atomic.Int64
}

func NewToastQueue(size int) *ToastQueue {
	if size < 1 {
		size = 1
	}
	return &ToastQueue{ch: make(chan Toast, size)}
}

// Toast enqueues t without blocking.
func (q *ToastQueue) Toast(t Toast) {
	select {
	case q.ch <- t:
	default:
		q.dropped.Add(1)
	}
}

// C is the channel the UI reads toasts from.
func (q *ToastQueue) C() <-chan Toast {
	return q.ch
}

// Dropped returns the number of toasts discarded because the queue was full.
func (q *ToastQueue) Dropped() int64 {
	return q.dropped.Load()
}

func toastFor(op string, err error) Toast {
	t := Toast{Operation: op, Code: models.CodeOf(err)}

	var appErr *models.AppError
	switch {
	case errors.Is(err, models.ErrValidationRejected) && errors.As(err, &appErr):
		t.Message = appErr.Message
	case errors.Is(err, models.ErrNetworkUnavailable):
		t.Message = "Network unavailable. Please try again."
	case errors.Is(err, models.ErrNotFound):
		t.Message = "This item no longer exists."
	default:
		t.Code = models.CodeServerFault
		t.Message = "Something went wrong. Please try again later."
	}
	return t
}
