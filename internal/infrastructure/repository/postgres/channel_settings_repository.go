package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/agensia/notify-dispatch/internal/domain/channel"
	qb "github.com/agensia/notify-dispatch/internal/platform/querybuilder"
)

type channelSettingsTableModel struct {
	ServerURL          string `db:"server_url"`
	InstanceName       string `db:"instance_name"`
	DefaultCountryCode string `db:"default_country_code"`
	Active             bool   `db:"active"`
}

// ChannelSettingsRepository reads the gateway channel configuration record.
// The table never stores the gateway API key; that secret only exists in the
// process environment.
type ChannelSettingsRepository struct {
	db *sqlx.DB
}

func NewChannelSettingsRepository(db *sqlx.DB) *ChannelSettingsRepository {
	return &ChannelSettingsRepository{db: db}
}

func (r *ChannelSettingsRepository) GetActive(ctx context.Context) (channel.Settings, bool, error) {
	query, args, err := qb.Select("server_url", "instance_name", "default_country_code", "active").
		From("channel_settings").
		Where(qb.Expr("active = TRUE")).
		OrderBy("updated_at DESC").
		Limit(1).
		ToSQL()
	if err != nil {
		return channel.Settings{}, false, fmt.Errorf("build get channel settings query: %w", err)
	}

	var row channelSettingsTableModel
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if isNotFound(err) {
			return channel.Settings{}, false, nil
		}
		return channel.Settings{}, false, fmt.Errorf("get channel settings: %w", err)
	}

	return channel.Settings{
		ServerURL:          row.ServerURL,
		InstanceName:       row.InstanceName,
		DefaultCountryCode: row.DefaultCountryCode,
		Active:             row.Active,
	}, true, nil
}
