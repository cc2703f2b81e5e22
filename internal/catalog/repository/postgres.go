package repository

import (
	"context"
	"database/sql"
	"errors"

	"vipgate/internal/catalog"
)

type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (r *PostgresCatalog) GetPlan(ctx context.Context, id string) (*catalog.Plan, error) {
	p := &catalog.Plan{}
	var channelID, priceID sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, price, currency, duration_days, channel_id, stripe_price_id
		 FROM plans WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.Currency, &p.DurationDays, &channelID, &priceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrPlanNotFound
		}
		return nil, err
	}

	if channelID.Valid && channelID.String != "" {
		p.ChannelID = &channelID.String
	}
	if priceID.Valid && priceID.String != "" {
		p.StripePriceID = &priceID.String
	}
	return p, nil
}

func (r *PostgresCatalog) GetChannel(ctx context.Context, id string) (*catalog.Channel, error) {
	c := &catalog.Channel{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, title FROM vip_channels WHERE id = $1`, id).Scan(&c.ID, &c.Title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, catalog.ErrChannelNotFound
		}
		return nil, err
	}
	return c, nil
}
