package forward

import (
	"io"
	"net"
	"time"
)

// DialTimeout bounds how long HandleTCP waits for the target.
var DialTimeout = 10 * time.Second

// Pipe copies in both directions until either side finishes, then closes
// both connections.
func Pipe(a, b net.Conn) {
	defer a.Close()
	defer b.Close()
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(a, b)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(b, a)
		done <- struct{}{}
	}()
	<-done
}

// HandleTCP connects conn to target and pipes between them. conn is closed
// when the target cannot be reached.
func HandleTCP(conn net.Conn, target string) error {
	conn.SetDeadline(time.Now().Add(90 * time.Second))
	dst, err := net.DialTimeout("tcp", target, DialTimeout)
	if err != nil {
		conn.Close()
		return err
	}
	conn.SetDeadline(time.Time{})
	dst.SetDeadline(time.Time{})
	Pipe(conn, dst)
	return nil
}
