package provider

import (
	"context"
	"errors"
	"io"
	"time"

	"nutflow/pkg/errs"
	"nutflow/pkg/types"

	"golang.org/x/time/rate"
)

// GuardOptions 限制单个后端调用的时长和频率
type GuardOptions struct {
	// Timeout 单次调用的超时，<=0 表示不限制
	Timeout time.Duration
	// RateLimit 每秒允许的调用数，0 表示不限流
	RateLimit float64
	// Burst 突发容量，RateLimit > 0 时生效 (默认 1)
	Burst int
}

// Guarded 是一个装饰器，为底层 Provider 添加超时和限流
// 截止时间到期转换为 errs.ErrTimeout，调用方不会被无限阻塞；调用方主动取消不算超时
type Guarded struct {
	backend Provider
	timeout time.Duration
	limiter *rate.Limiter
}

// Guard 包装后端。两个选项都为零值时原样返回
func Guard(p Provider, opts GuardOptions) Provider {
	if opts.Timeout <= 0 && opts.RateLimit <= 0 {
		return p
	}
	g := &Guarded{backend: p, timeout: opts.Timeout}
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return g
}

// Unwrap 返回被装饰的后端
func (g *Guarded) Unwrap() Provider { return g.backend }

type result[T any] struct {
	val T
	err error
}

// call 在独立的 goroutine 里执行后端调用
// 某些后端 (比如本地磁盘) 根本不看 ctx，只有这样才能保证超时生效
func call[T any](g *Guarded, ctx context.Context, op, id string, fn func(ctx context.Context) (T, error), release func(T)) (T, context.CancelFunc, error) {
	var zero T

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
				// 等到令牌时已经超过截止时间
				return zero, nil, errs.Timeout(op, id, err)
			}
			return zero, nil, errs.Transport(op, id, err)
		}
	}

	cancel := context.CancelFunc(func() {})
	if g.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
	}

	// 带缓冲，超时后 goroutine 也能把结果放进来再退出
	ch := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		ch <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			cancel()
			return zero, nil, mapContextErr(op, id, r.err)
		}
		return r.val, cancel, nil
	case <-ctx.Done():
		cancel()
		if release != nil {
			// 迟到的结果要释放，否则句柄泄漏
			go func() {
				if r := <-ch; r.err == nil {
					release(r.val)
				}
			}()
		}
		// 只有截止时间到了才算超时，调用方取消不算
		return zero, nil, errs.Transport(op, id, ctx.Err())
	}
}

func mapContextErr(op, id string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errs.IsTimeout(err) {
		return errs.Timeout(op, id, err)
	}
	return err
}

func (g *Guarded) List(ctx context.Context, pattern string) ([]string, error) {
	ids, cancel, err := call(g, ctx, "list", pattern, func(ctx context.Context) ([]string, error) {
		return g.backend.List(ctx, pattern)
	}, nil)
	if cancel != nil {
		cancel()
	}
	return ids, err
}

type opened struct {
	rc   io.ReadCloser
	size int64
}

func (g *Guarded) Open(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	o, cancel, err := call(g, ctx, "open", id, func(ctx context.Context) (opened, error) {
		rc, size, err := g.backend.Open(ctx, id)
		return opened{rc: rc, size: size}, err
	}, func(o opened) { o.rc.Close() })
	if err != nil {
		return nil, 0, err
	}
	// 读取阶段仍然受同一个 deadline 约束，Close 时释放 ctx
	return &guardedReader{rc: o.rc, cancel: cancel, id: id}, o.size, nil
}

func (g *Guarded) LastChanged(ctx context.Context, id string) (types.Version, error) {
	v, cancel, err := call(g, ctx, "lastChanged", id, func(ctx context.Context) (types.Version, error) {
		return g.backend.LastChanged(ctx, id)
	}, nil)
	if cancel != nil {
		cancel()
	}
	return v, err
}

func (g *Guarded) Exists(ctx context.Context, id string) (bool, error) {
	ok, cancel, err := call(g, ctx, "exists", id, func(ctx context.Context) (bool, error) {
		return g.backend.Exists(ctx, id)
	}, nil)
	if cancel != nil {
		cancel()
	}
	return ok, err
}

// Save 透传 (后端不支持时仍然返回 ErrUnsupported)
func (g *Guarded) Save(ctx context.Context, id string, r io.Reader) error {
	_, cancel, err := call(g, ctx, "save", id, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, Save(ctx, g.backend, id, r)
	}, nil)
	if cancel != nil {
		cancel()
	}
	return err
}

// Close 关闭底层后端
func (g *Guarded) Close() error {
	return Close(g.backend)
}

type guardedReader struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
	id     string
}

func (r *guardedReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	if err != nil && err != io.EOF {
		err = mapContextErr("read", r.id, err)
	}
	return n, err
}

func (r *guardedReader) Close() error {
	defer r.cancel()
	return r.rc.Close()
}
