package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/mentorlink/settlement/internal/clock"
	"github.com/mentorlink/settlement/internal/config"
	"github.com/mentorlink/settlement/internal/dispute"
	"github.com/mentorlink/settlement/internal/events"
	"github.com/mentorlink/settlement/internal/ledger"
	"github.com/mentorlink/settlement/internal/locks"
	"github.com/mentorlink/settlement/internal/migration"
	"github.com/mentorlink/settlement/internal/observability/metrics"
	"github.com/mentorlink/settlement/internal/payment"
	"github.com/mentorlink/settlement/internal/payout"
	"github.com/mentorlink/settlement/internal/scheduler"
	"github.com/mentorlink/settlement/internal/server"
	"github.com/mentorlink/settlement/internal/session"
	"github.com/mentorlink/settlement/pkg/db"
	"github.com/mentorlink/settlement/pkg/log"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		metrics.Module,
		locks.Module,
		events.Module,
		migration.Module,

		session.Module,
		ledger.Module,
		payment.Module,
		dispute.Module,
		payout.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
