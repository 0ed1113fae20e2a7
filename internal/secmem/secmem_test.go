package secmem

import "testing"

func TestBufferCloseZeros(t *testing.T) {
	t.Parallel()

	buf := From([]byte("secret"))
	backing := buf.Bytes()
	buf.Close()
	for i, c := range backing {
		if c != 0 {
			t.Fatalf("byte %d not zeroed: %q", i, c)
		}
	}
	if buf.Bytes() != nil {
		t.Fatal("expected nil bytes after close")
	}
	buf.Close()
	if buf.Len() != 0 {
		t.Fatal("second close revived the buffer")
	}
}

func TestBufferAppendZerosOldBacking(t *testing.T) {
	t.Parallel()

	buf := New(2)
	buf.Append('a', 'b')
	old := buf.Bytes()
	buf.Append('c', 'd', 'e')
	if string(buf.Bytes()) != "abcde" {
		t.Fatalf("got %q", buf.Bytes())
	}
	if old[0] != 0 || old[1] != 0 {
		t.Fatalf("old backing array not zeroed: %q", old)
	}
	buf.Close()
	buf.Append('x')
	if buf.Len() != 0 {
		t.Fatal("append after close should be a no-op")
	}
}
