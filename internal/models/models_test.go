package models

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// An inactive pair must survive a Create as inactive. A default-value
// struct tag would make GORM omit IsActive=false from the INSERT and
// the row would come back active, defeating the liveness checks.
func TestForwardingPairInactiveRoundTrip(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&ForwardingPair{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	pair := ForwardingPair{
		ID: "pair-1", TenantID: "ten-1",
		SourcePlatform: "telegram", SourceChatRef: "100", SourceAccountID: "acct-s",
		DestPlatform: "telegram", DestChatRef: "200", DestAccountID: "acct-d",
		IsActive: false,
	}
	if err := db.Create(&pair).Error; err != nil {
		t.Fatalf("create pair: %v", err)
	}

	var got ForwardingPair
	if err := db.First(&got, "id = ?", "pair-1").Error; err != nil {
		t.Fatalf("reload pair: %v", err)
	}
	if got.IsActive {
		t.Error("inactive pair came back active after create")
	}
}

func TestForwardingPairRoute(t *testing.T) {
	tests := []struct {
		source string
		dest   string
		want   string
	}{
		{"telegram", "telegram", "telegram_to_telegram"},
		{"telegram", "discord", "telegram_to_discord"},
		{"discord", "slack", "discord_to_slack"},
	}
	for _, tt := range tests {
		p := ForwardingPair{SourcePlatform: tt.source, DestPlatform: tt.dest}
		if got := p.Route(); got != tt.want {
			t.Errorf("Route(%s, %s) = %q, want %q", tt.source, tt.dest, got, tt.want)
		}
	}
}
