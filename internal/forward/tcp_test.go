package forward

import (
	"bufio"
	"net"
	"testing"
)

func echoServer(t *testing.T) net.Listener {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				line, err := bufio.NewReader(c).ReadString('\n')
				if err != nil {
					return
				}
				c.Write([]byte("echo " + line))
			}(c)
		}
	}()
	return l
}

func TestHandleTCP(t *testing.T) {
	t.Parallel()

	target := echoServer(t)
	client, server := net.Pipe()
	errc := make(chan error, 1)
	go func() { errc <- HandleTCP(server, target.Addr().String()) }()

	if _, err := client.Write([]byte("knock\n")); err != nil {
		t.Fatal(err)
	}
	line, err := bufio.NewReader(client).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "echo knock\n" {
		t.Fatalf("got %q", line)
	}
	client.Close()
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
}

func TestHandleTCPUnreachableTarget(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()

	client, server := net.Pipe()
	defer client.Close()
	if err := HandleTCP(server, addr); err == nil {
		t.Fatal("expected dial error")
	}
}
