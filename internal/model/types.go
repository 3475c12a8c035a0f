package model

import "time"

const EnvelopeVersion = "v1"

type Envelope struct {
	Version  string       `json:"version"`
	Success  bool         `json:"success"`
	Data     any          `json:"data,omitempty"`
	Error    *ErrorBody   `json:"error"`
	Warnings []string     `json:"warnings,omitempty"`
	Meta     EnvelopeMeta `json:"meta"`
}

type ErrorBody struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

type EnvelopeMeta struct {
	RequestID string      `json:"request_id"`
	Timestamp time.Time   `json:"timestamp"`
	Command   string      `json:"command"`
	Network   string      `json:"network,omitempty"`
	Cache     CacheStatus `json:"cache"`
}

type CacheStatus struct {
	Status string `json:"status"`
	AgeMS  int64  `json:"age_ms"`
}

// Token is a minted bearer token with the claims a caller usually needs to
// check.
type Token struct {
	Kind      string `json:"kind"`
	Token     string `json:"token"`
	URI       string `json:"uri,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

type NetworkCapability struct {
	Network  string   `json:"network"`
	ChainID  int64    `json:"chain_id"`
	Methods  []string `json:"methods"`
	Platform bool     `json:"platform_sends"`
}

type SentTransaction struct {
	Network         string `json:"network"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	TransactionHash string `json:"transaction_hash"`
	Status          string `json:"status"`
	BlockNumber     uint64 `json:"block_number,omitempty"`
}
