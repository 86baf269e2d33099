package crdb

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates every table the repository uses. The seats primary key is
// what the hold upsert relies on for one active hold per seat.
const Schema = `
CREATE TABLE IF NOT EXISTS seats (
	showtime_id UUID NOT NULL,
	seat_id TEXT NOT NULL,
	row_label TEXT NOT NULL,
	seat_number INT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('available', 'reserved', 'booked')),
	reserved_by UUID,
	reserved_until TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (showtime_id, seat_id)
);
CREATE INDEX IF NOT EXISTS seats_hold_expiry_idx ON seats (reserved_until) WHERE status = 'reserved';

CREATE TABLE IF NOT EXISTS bookings (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	showtime_id UUID NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('PENDING', 'CONFIRMED', 'FAILED')),
	total_price NUMERIC NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS bookings_user_idx ON bookings (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS booking_items (
	booking_id UUID NOT NULL,
	seat_id TEXT NOT NULL,
	price NUMERIC NOT NULL,
	PRIMARY KEY (booking_id, seat_id)
);

CREATE TABLE IF NOT EXISTS outbox (
	id UUID PRIMARY KEY,
	seq INT8 NOT NULL DEFAULT unique_rowid(),
	aggregate_type TEXT NOT NULL,
	aggregate_id UUID NOT NULL,
	event_type TEXT NOT NULL,
	payload_json JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	published_at TIMESTAMPTZ,
	status TEXT NOT NULL CHECK (status IN ('NEW', 'PUBLISHED')),
	dedupe_key TEXT NOT NULL UNIQUE
);
CREATE INDEX IF NOT EXISTS outbox_status_idx ON outbox (status, created_at);
`

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}
