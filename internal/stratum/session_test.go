package stratum

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeServer answers JSON-RPC lines written by the Session under test,
// replaying the literal fixture exchange from spec.md §8 scenario 3.
func fakeServer(t *testing.T, conn net.Conn) {
	t.Helper()
	reader := bufio.NewScanner(conn)
	reader.Buffer(make([]byte, 4096), 1<<20)

	for reader.Scan() {
		var req Request
		if err := json.Unmarshal(reader.Bytes(), &req); err != nil {
			return
		}

		switch req.Method {
		case "mining.subscribe":
			resp := `{"id":` + idJSON(req.ID) + `,"result":[["mining.set_difficulty","mining.notify"],"ae6812eb4cd7735a302a8a9dd95cf71f",4],"error":null}` + "\n"
			conn.Write([]byte(resp))
		case "mining.authorize":
			resp := `{"id":` + idJSON(req.ID) + `,"result":true,"error":null}` + "\n"
			conn.Write([]byte(resp))
		case "mining.submit":
			resp := `{"id":` + idJSON(req.ID) + `,"result":true,"error":null}` + "\n"
			conn.Write([]byte(resp))
		}
	}
}

func idJSON(id interface{}) string {
	b, _ := json.Marshal(id)
	return string(b)
}

func TestSessionSubscribeAndAuthorize(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go fakeServer(t, serverConn)

	logger := zap.NewNop()
	sess := NewSession(NewCodec(clientConn), logger)
	go sess.ReadLoop()

	if err := sess.Subscribe("test-miner/1.0"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	extranonce1, size := sess.Extranonce()
	if extranonce1 != "ae6812eb4cd7735a302a8a9dd95cf71f" || size != 4 {
		t.Fatalf("extranonce = (%q, %d)", extranonce1, size)
	}

	if err := sess.Authorize("worker1", "x"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if sess.State() != StateReady {
		t.Fatalf("state = %v, want ready", sess.State())
	}
}

func TestSessionNotifyAndSubmit(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go fakeServer(t, serverConn)

	logger := zap.NewNop()
	sess := NewSession(NewCodec(clientConn), logger)
	go sess.ReadLoop()

	go func() {
		notify := `{"id":null,"method":"mining.notify","params":["job-1","` +
			"0000000000000000000000000000000000000000000000000000000000000000" +
			`","aa","bb",[],"20000000","1d00ffff","5f5e1000",true]}` + "\n"
		serverConn.Write([]byte(notify))
	}()

	deadline := time.After(2 * time.Second)
	for sess.CurrentJob() == nil {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for job")
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}

	accepted, err := sess.SubmitShare("worker1", "job-1", "00000000", "5f5e1000", "00000001")
	if err != nil {
		t.Fatalf("SubmitShare: %v", err)
	}
	if !accepted {
		t.Fatal("expected share accepted")
	}
}

func TestSessionReconnectAfterThreeFailuresIn5s(t *testing.T) {
	sess := &Session{pending: make(map[int64]*pendingCall)}
	sess.recordFailure()
	sess.recordFailure()
	if sess.ShouldReconnect() {
		t.Fatal("should not reconnect after only 2 failures")
	}
	sess.recordFailure()
	if !sess.ShouldReconnect() {
		t.Fatal("should reconnect after 3 failures within window")
	}
}

func TestSessionLowDifficultyRejectionDoesNotCountAsFailure(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go func() {
		reader := bufio.NewScanner(serverConn)
		reader.Buffer(make([]byte, 4096), 1<<20)
		for reader.Scan() {
			var req Request
			json.Unmarshal(reader.Bytes(), &req)
			resp := `{"id":` + idJSON(req.ID) + `,"result":null,"error":[23,"Low difficulty share",null]}` + "\n"
			serverConn.Write([]byte(resp))
		}
	}()

	logger := zap.NewNop()
	sess := NewSession(NewCodec(clientConn), logger)
	go sess.ReadLoop()

	for i := 0; i < 3; i++ {
		accepted, err := sess.SubmitShare("worker1", "job-1", "00000000", "5f5e1000", "00000001")
		if err != nil {
			t.Fatalf("SubmitShare: %v", err)
		}
		if accepted {
			t.Fatal("expected rejection")
		}
	}

	if sess.ShouldReconnect() {
		t.Fatal("error code 23 rejections should not trigger reconnect")
	}
}
