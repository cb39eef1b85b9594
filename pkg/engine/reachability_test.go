package engine

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/go-ping/ping"
	"github.com/stretchr/testify/assert"
)

// fakePinger scripts a ping outcome for classifier tests.
type fakePinger struct {
	recv int
	err  error
}

func (f *fakePinger) Run() error { return f.err }
func (f *fakePinger) Stop()      {}
func (f *fakePinger) Statistics() *ping.Statistics {
	return &ping.Statistics{PacketsSent: 1, PacketsRecv: f.recv}
}
func (f *fakePinger) SetPrivileged(bool)       {}
func (f *fakePinger) SetCount(int)             {}
func (f *fakePinger) SetTimeout(time.Duration) {}

func newTestClassifier(recv int, pingErr, dialErr error) *Classifier {
	c := NewClassifier(ClassifierConfig{PingTimeout: 200 * time.Millisecond, FallbackPorts: []int{389}})
	c.pingerFactory = func(string) (pinger, error) {
		return &fakePinger{recv: recv, err: pingErr}, nil
	}
	c.dial = func(context.Context, string, string) (net.Conn, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		client, server := net.Pipe()
		go server.Close()
		return client, nil
	}
	return c
}

func TestClassify_LocalAliasSkipsNetwork(t *testing.T) {
	c := NewClassifier(DefaultClassifierConfig())
	c.pingerFactory = func(string) (pinger, error) {
		t.Fatal("local targets must not be pinged")
		return nil, nil
	}

	assert.Equal(t, ReachLocal, c.Classify(context.Background(), Target{Host: "localhost"}))
	assert.Equal(t, ReachLocal, c.Classify(context.Background(), Target{Host: "127.0.0.1"}))
}

func TestClassify_PingSuccessIsOnline(t *testing.T) {
	c := newTestClassifier(1, nil, errors.New("refused"))
	assert.Equal(t, ReachOnline, c.Classify(context.Background(), Target{Host: "dc01.corp.example.com"}))
}

func TestClassify_TCPFallbackIsOnline(t *testing.T) {
	// Echo filtered, but the directory port answers.
	c := newTestClassifier(0, errors.New("icmp filtered"), nil)
	assert.Equal(t, ReachOnline, c.Classify(context.Background(), Target{Host: "dc01.corp.example.com"}))
}

func TestClassify_NothingAnswersIsUnreachable(t *testing.T) {
	c := newTestClassifier(0, errors.New("icmp filtered"), errors.New("refused"))
	assert.Equal(t, ReachUnreachable, c.Classify(context.Background(), Target{Host: "dc09.corp.example.com"}))
}

func TestClassify_Idempotent(t *testing.T) {
	// Under unchanged network conditions re-classification yields the same
	// state.
	c := newTestClassifier(0, errors.New("icmp filtered"), errors.New("refused"))
	target := Target{Host: "dc09.corp.example.com"}
	first := c.Classify(context.Background(), target)
	for range 3 {
		assert.Equal(t, first, c.Classify(context.Background(), target))
	}
}
