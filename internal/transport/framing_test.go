package transport

import (
	"net"
	"testing"
)

func TestSendRecvRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	want := []byte("hello from the wire")
	go func() {
		if err := Send(client, want); err != nil {
			t.Errorf("Send failed: %v", err)
		}
	}()

	got, err := Recv(server)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSendRecvEmptyPayload(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		if err := Send(client, []byte{}); err != nil {
			t.Errorf("Send failed: %v", err)
		}
	}()

	got, err := Recv(server)
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty payload, got %q", got)
	}
}

func TestRecvOnClosedConnectionErrors(t *testing.T) {
	server, client := net.Pipe()
	client.Close()

	if _, err := Recv(server); err == nil {
		t.Error("expected an error reading from a closed connection")
	}
}
