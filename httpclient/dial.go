package httpclient

import (
	"net"
	"time"

	"github.com/valyala/fasthttp"
)

func dialWithTimeout(dial fasthttp.DialFunc, addr string, timeout time.Duration) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := dial(addr)
		ch <- result{conn, err}
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-t.C:
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fasthttp.ErrDialTimeout
	}
}
