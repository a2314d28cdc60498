package services

import (
	"context"
	"errors"
	"log"
)

// ReasonCode is the canonical outcome of a transfer eligibility check. Only
// this package produces reason codes; everything upstream translates them to
// user-facing text through ReasonText so the wording stays consistent.
type ReasonCode string

const (
	ReasonAllowed               ReasonCode = "allowed"
	ReasonSelfTransfer          ReasonCode = "self_transfer"
	ReasonInvalidAmount         ReasonCode = "invalid_amount"
	ReasonSenderUnregistered    ReasonCode = "sender_unregistered"
	ReasonSenderBanned          ReasonCode = "sender_banned"
	ReasonTransfersDisabled     ReasonCode = "transfers_disabled"
	ReasonInsufficientFunds     ReasonCode = "insufficient_funds"
	ReasonRecipientUnregistered ReasonCode = "recipient_unregistered"
	ReasonRecipientBanned       ReasonCode = "recipient_banned"
	ReasonInternalError         ReasonCode = "internal_error"
)

// ReasonText is the single reason-to-text lookup table.
var ReasonText = map[ReasonCode]string{
	ReasonAllowed:               "Transfer allowed",
	ReasonSelfTransfer:          "You cannot send coins to yourself",
	ReasonInvalidAmount:         "Amount must be a positive whole number",
	ReasonSenderUnregistered:    "You are not registered yet, press /start",
	ReasonSenderBanned:          "Your account is banned",
	ReasonTransfersDisabled:     "Transfers are disabled for your account",
	ReasonInsufficientFunds:     "Not enough coins",
	ReasonRecipientUnregistered: "The recipient is not registered",
	ReasonRecipientBanned:       "The recipient is banned",
	ReasonInternalError:         "Something went wrong, try again later",
}

// AccessResult is the outcome of a pre-flight transfer check.
type AccessResult struct {
	Allowed bool       `json:"allowed"`
	Reason  ReasonCode `json:"reason"`
}

func allowed() AccessResult {
	return AccessResult{Allowed: true, Reason: ReasonAllowed}
}

func denied(reason ReasonCode) AccessResult {
	return AccessResult{Allowed: false, Reason: reason}
}

// EligibilityChecker performs read-only pre-flight validation of a proposed
// transfer. The executor re-validates balances under its row locks; the
// checker exists so callers can give users a specific reason up front.
type EligibilityChecker struct {
	accounts *AccountService
}

func NewEligibilityChecker(accounts *AccountService) *EligibilityChecker {
	return &EligibilityChecker{accounts: accounts}
}

// Check evaluates the rules in a fixed order so the first failure is the most
// specific one. Store failures never escape: they collapse to a generic deny.
func (c *EligibilityChecker) Check(ctx context.Context, senderID, recipientID, amount int64) AccessResult {
	if senderID == recipientID {
		return denied(ReasonSelfTransfer)
	}
	if amount <= 0 {
		return denied(ReasonInvalidAmount)
	}

	sender, err := c.accounts.GetAccount(ctx, senderID)
	if errors.Is(err, ErrAccountNotFound) {
		return denied(ReasonSenderUnregistered)
	}
	if err != nil {
		log.Printf("[ELIGIBILITY] sender %d lookup failed: %v", senderID, err)
		return denied(ReasonInternalError)
	}
	if sender.Banned {
		return denied(ReasonSenderBanned)
	}
	if sender.BannedTransfer {
		return denied(ReasonTransfersDisabled)
	}
	if sender.Coins <= 0 || sender.Coins < amount {
		return denied(ReasonInsufficientFunds)
	}

	recipient, err := c.accounts.GetAccount(ctx, recipientID)
	if errors.Is(err, ErrAccountNotFound) {
		return denied(ReasonRecipientUnregistered)
	}
	if err != nil {
		log.Printf("[ELIGIBILITY] recipient %d lookup failed: %v", recipientID, err)
		return denied(ReasonInternalError)
	}
	if recipient.Banned {
		return denied(ReasonRecipientBanned)
	}

	return allowed()
}
