package domain

import (
	"context"
	"io"
	"time"
)

// SignalCache holds the latest signal per symbol for cheap read-side access.
type SignalCache interface {
	SetLatest(ctx context.Context, sig Signal) error
	GetLatest(ctx context.Context, symbol string) (Signal, error)
}

// AlertCache mirrors unexpired whale alerts for the read API.
type AlertCache interface {
	Add(ctx context.Context, alert WhaleAlert) error
	Active(ctx context.Context, now time.Time) ([]WhaleAlert, error)
}

// PriceCache holds the latest mark price per symbol.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// Publisher pushes serialized events to external consumers (pub/sub egress).
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// BlobWriter stores oversize payloads outside the document store.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
