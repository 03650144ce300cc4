package ws

import "testing"

func TestSendersZeroValueIsInert(t *testing.T) {
	var s Senders
	if got := s.SendData([]byte("x"), 0); got != SendNoImplementation {
		t.Errorf("SendData on zero Senders = %v, want NoImplementation", got)
	}
	if got := s.SendClose(CloseNormalClosure, ""); got != SendNoImplementation {
		t.Errorf("SendClose on zero Senders = %v, want NoImplementation", got)
	}
	if got := s.SendPing(nil); got != SendNoImplementation {
		t.Errorf("SendPing on zero Senders = %v, want NoImplementation", got)
	}
	if got := s.SendPong(nil); got != SendNoImplementation {
		t.Errorf("SendPong on zero Senders = %v, want NoImplementation", got)
	}
}

func TestSendersDelegatesAndRevokes(t *testing.T) {
	var calls []string
	impl := &senderImpl{
		sendData:  func(p []byte, m int) SendResult { calls = append(calls, "data"); return SendSuccess },
		sendClose: func(c uint16, r string) SendResult { calls = append(calls, "close"); return SendSuccess },
		sendPing:  func(p []byte) SendResult { calls = append(calls, "ping"); return SendSuccess },
		sendPong:  func(p []byte) SendResult { calls = append(calls, "pong"); return SendSuccess },
	}
	s := newSenders(impl)

	if got := s.SendData([]byte("x"), 0); got != SendSuccess {
		t.Errorf("SendData = %v, want Success", got)
	}
	if got := s.SendPing([]byte("x")); got != SendSuccess {
		t.Errorf("SendPing = %v, want Success", got)
	}
	if got := s.SendPong([]byte("x")); got != SendSuccess {
		t.Errorf("SendPong = %v, want Success", got)
	}

	impl.revoke()

	if got := s.SendData([]byte("x"), 0); got != SendClosed {
		t.Errorf("SendData after revoke = %v, want Closed", got)
	}
	if got := s.SendClose(CloseNormalClosure, ""); got != SendClosed {
		t.Errorf("SendClose after revoke = %v, want Closed", got)
	}

	if len(calls) != 3 {
		t.Fatalf("got %d delegated calls, want 3: %v", len(calls), calls)
	}
}

func TestSendersCloneSharesRevocation(t *testing.T) {
	impl := &senderImpl{
		sendData: func(p []byte, m int) SendResult { return SendSuccess },
	}
	a := newSenders(impl)
	b := a // clone

	impl.revoke()

	if got := a.SendData(nil, 0); got != SendClosed {
		t.Errorf("original handle after revoke = %v, want Closed", got)
	}
	if got := b.SendData(nil, 0); got != SendClosed {
		t.Errorf("cloned handle after revoke = %v, want Closed", got)
	}
}
