package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema lists the DDL statements in dependency order.  They are run one
// at a time because the driver rejects multi-statement queries unless
// multiStatements is set on the DSN.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS shows (
		id                VARCHAR(64)  NOT NULL PRIMARY KEY,
		title             VARCHAR(255) NOT NULL,
		overview          TEXT         NOT NULL,
		original_language VARCHAR(16)  NOT NULL DEFAULT '',
		runtime           INT          NOT NULL DEFAULT 0,
		poster_path       VARCHAR(255) NOT NULL DEFAULT '',
		seats_per_row     INT          NOT NULL,
		seat_groupings    JSON         NOT NULL,
		created_at        DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at        DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS show_times (
		show_id   VARCHAR(64) NOT NULL,
		starts_at DATETIME    NOT NULL,
		PRIMARY KEY (show_id, starts_at),
		CONSTRAINT fk_show_times_show FOREIGN KEY (show_id) REFERENCES shows (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id                 CHAR(36)     NOT NULL PRIMARY KEY,
		user_id            VARCHAR(191) NOT NULL,
		user_email         VARCHAR(255) NOT NULL,
		show_id            VARCHAR(64)  NOT NULL,
		show_date_time     DATETIME     NOT NULL,
		show_price_cents   BIGINT       NOT NULL,
		movie_title        VARCHAR(255) NOT NULL,
		movie_language     VARCHAR(16)  NOT NULL DEFAULT '',
		movie_runtime      INT          NOT NULL DEFAULT 0,
		movie_poster       VARCHAR(255) NOT NULL DEFAULT '',
		total_amount_cents BIGINT       NOT NULL,
		is_paid            TINYINT(1)   NOT NULL DEFAULT 0,
		is_canceled        TINYINT(1)   NOT NULL DEFAULT 0,
		status             ENUM('pending','paid','canceled') NOT NULL DEFAULT 'pending',
		cancel_reason      VARCHAR(255) NULL,
		payment_ref        VARCHAR(255) NULL,
		notified_at        DATETIME(3)  NULL,
		created_at         DATETIME(3)  NOT NULL,
		updated_at         DATETIME(3)  NOT NULL,
		KEY idx_bookings_user (user_id, created_at),
		KEY idx_bookings_show (show_id, show_date_time),
		KEY idx_bookings_pending (is_paid, is_canceled, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS booking_seats (
		booking_id     CHAR(36)    NOT NULL,
		show_id        VARCHAR(64) NOT NULL,
		show_date_time DATETIME    NOT NULL,
		seat_label     VARCHAR(16) NOT NULL,
		price_cents    BIGINT      NOT NULL,
		claim          TINYINT     NULL DEFAULT 1,
		PRIMARY KEY (booking_id, seat_label),
		UNIQUE KEY uq_active_seat (show_id, show_date_time, seat_label, claim),
		CONSTRAINT fk_booking_seats_booking FOREIGN KEY (booking_id) REFERENCES bookings (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the tables used by the service when they are missing.
// It is safe to run on every start.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}
