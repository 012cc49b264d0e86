package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dm-chat/internal/logger"
	"dm-chat/internal/syncstore"
	"dm-chat/internal/user"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	baseURL  = flag.String("base", "http://localhost:8080", "server base url")
	pairs    = flag.Int("pairs", 50, "number of sender/receiver pairs")
	msgCount = flag.Int("messages", 20, "messages sent per pair")
	interval = flag.Duration("interval", 10*time.Millisecond, "pause between sends")
	settle   = flag.Duration("settle", 3*time.Second, "time allowed for receipts after the last send")
)

type stats struct {
	sent     atomic.Int64
	failed   atomic.Int64
	unseen   atomic.Int64
	receipts atomic.Int64
}

func main() {
	flag.Parse()
	log := logger.New("info")
	defer log.Sync()

	log.Info("starting load test", zap.Int("users", *pairs*2), zap.Int("messages_per_pair", *msgCount))

	var st stats
	var wg sync.WaitGroup
	// Pair i: u_i_a sends to u_i_b, which reads everything it receives.
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			if err := runPair(pairID, &st, log); err != nil {
				log.Warn("pair failed", zap.Int("pair", pairID), zap.Error(err))
			}
		}(i)
	}
	wg.Wait()

	log.Info("load test complete",
		zap.Int64("sent", st.sent.Load()),
		zap.Int64("failed", st.failed.Load()),
		zap.Int64("seen_receipts", st.receipts.Load()),
		zap.Int64("left_unseen", st.unseen.Load()))
}

func runPair(pairID int, st *stats, log *zap.Logger) error {
	ctx := context.Background()
	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws"

	sender, senderID, err := authenticate(ctx, fmt.Sprintf("u_%d_a", pairID), "password123")
	if err != nil {
		return err
	}
	receiver, receiverID, err := authenticate(ctx, fmt.Sprintf("u_%d_b", pairID), "password123")
	if err != nil {
		return err
	}

	a := syncstore.New(sender, senderID, log.Named("sender"))
	b := syncstore.New(receiver, receiverID, log.Named("receiver"))

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.Stream(streamCtx, wsURL, sender.Token())
	go b.Stream(streamCtx, wsURL, receiver.Token())

	if err := b.OpenConversation(ctx, senderID); err != nil {
		return errors.Wrap(err, "receiver open")
	}
	if err := a.OpenConversation(ctx, receiverID); err != nil {
		return errors.Wrap(err, "sender open")
	}

	for i := 0; i < *msgCount; i++ {
		if _, err := a.RequestSend(ctx, fmt.Sprintf("load test message %d", i), ""); err != nil {
			st.failed.Add(1)
			continue
		}
		st.sent.Add(1)
		time.Sleep(*interval)
	}
	time.Sleep(*settle)

	for _, m := range a.Messages() {
		if m.Seen {
			st.receipts.Add(1)
		} else {
			st.unseen.Add(1)
		}
	}
	return nil
}

// authenticate registers (a taken username is fine) and logs in.
func authenticate(ctx context.Context, username, password string) (*syncstore.HTTPClient, int64, error) {
	_, err := syncstore.Register(ctx, *baseURL, user.RegisterRequest{Username: username, Password: password})
	var se *syncstore.StatusError
	if err != nil && !(errors.As(err, &se) && se.Code == http.StatusConflict) {
		return nil, 0, errors.Wrapf(err, "register %s", username)
	}

	client, res, err := syncstore.Login(ctx, *baseURL, username, password)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "login %s", username)
	}
	return client, res.ID, nil
}
