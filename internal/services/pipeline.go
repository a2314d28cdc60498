package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/coinclub/backend/internal/config"
	"github.com/coinclub/backend/internal/models"
)

// SideEffectPipeline fans out the post-commit work for each transfer:
// recipient notification, admin audit message, signed callback, velocity
// check. A single worker drains a buffered channel so commit latency never
// includes notification latency, and each step fails independently.
type SideEffectPipeline struct {
	queue     chan *models.TransferRecord
	accounts  *AccountService
	callbacks *CallbackService
	guard     *VelocityGuard
	messenger Messenger
	cfg       *config.TransferConfig

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewSideEffectPipeline(accounts *AccountService, callbacks *CallbackService, guard *VelocityGuard, messenger Messenger, cfg *config.TransferConfig) *SideEffectPipeline {
	return &SideEffectPipeline{
		queue:     make(chan *models.TransferRecord, cfg.QueueSize),
		accounts:  accounts,
		callbacks: callbacks,
		guard:     guard,
		messenger: messenger,
		cfg:       cfg,
	}
}

// Start launches the worker goroutine.
func (p *SideEffectPipeline) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for record := range p.queue {
			p.process(record)
		}
	}()
}

// Enqueue hands a committed record to the worker. It never blocks the
// transfer path: if the queue is full the record's side effects are dropped
// with a log line. The ledger entry itself is already durable.
func (p *SideEffectPipeline) Enqueue(record *models.TransferRecord) {
	select {
	case p.queue <- record:
	default:
		log.Printf("[PIPELINE] queue full, dropping side effects for record %d", record.ID)
	}
}

// Close drains the queue and stops the worker.
func (p *SideEffectPipeline) Close() {
	p.closeOnce.Do(func() {
		close(p.queue)
	})
	p.wg.Wait()
}

func (p *SideEffectPipeline) process(record *models.TransferRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p.notifyRecipient(ctx, record)
	p.notifyAdmin(record)
	p.deliverCallback(ctx, record)

	if err := p.guard.CheckSender(ctx, record.SenderID); err != nil {
		log.Printf("[PIPELINE] velocity check for record %d: %v", record.ID, err)
	}
}

func (p *SideEffectPipeline) notifyRecipient(ctx context.Context, record *models.TransferRecord) {
	senderName := fmt.Sprintf("user %d", record.SenderID)
	if sender, err := p.accounts.GetAccount(ctx, record.SenderID); err == nil {
		if sender.DisplayName != "" {
			senderName = sender.DisplayName
		} else if sender.Username != "" {
			senderName = "@" + sender.Username
		}
	}

	text := fmt.Sprintf("You received %d coins from %s", record.Amount, senderName)
	if err := p.messenger.Send(record.RecipientID, text); err != nil {
		// Recipient may have blocked the bot; the sender never hears about it.
		log.Printf("[PIPELINE] recipient notification for record %d failed: %v", record.ID, err)
	}
}

func (p *SideEffectPipeline) notifyAdmin(record *models.TransferRecord) {
	if p.cfg.AdminChatID == 0 {
		return
	}
	text := fmt.Sprintf("Transfer #%d: %d -> %d, %d coins",
		record.ID, record.SenderID, record.RecipientID, record.Amount)
	if err := p.messenger.Send(p.cfg.AdminChatID, text); err != nil {
		log.Printf("[PIPELINE] admin notification for record %d failed: %v", record.ID, err)
	}
}

func (p *SideEffectPipeline) deliverCallback(ctx context.Context, record *models.TransferRecord) {
	if !p.callbacks.Enabled() {
		return
	}

	recipient, err := p.accounts.GetAccount(ctx, record.RecipientID)
	if err != nil {
		log.Printf("[PIPELINE] callback lookup for record %d failed: %v", record.ID, err)
		return
	}
	if recipient.CallbackURL == "" || recipient.CallbackSecret == "" {
		return
	}

	if err := p.callbacks.Deliver(ctx, record, recipient.CallbackURL, recipient.CallbackSecret); err != nil {
		log.Printf("[PIPELINE] callback for record %d failed: %v", record.ID, err)
	}
}
