package repository

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/heron/internal/domain"
)

func newTestRepo(t *testing.T) *SQLRepository {
	t.Helper()

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "heron-test.db"),
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func scored(id, sender, receiver string, amount float64, risk int, at time.Time) *domain.ScoredTransaction {
	return &domain.ScoredTransaction{
		Transaction: domain.Transaction{
			TransactionID:   id,
			Amount:          amount,
			Currency:        "THB",
			Timestamp:       at,
			SenderAccount:   sender,
			ReceiverAccount: receiver,
			Channel:         "PromptPay",
		},
		RiskScore: risk,
		Action:    domain.ActionMonitor,
		Reasons:   []string{},
		ScoredAt:  at,
	}
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := scored("tx-001", "A-1", "MULE-1", 500, 85, base)
		tx.Action = domain.ActionEscalate
		tx.Reasons = []string{"M001: Pass-Through Behavior (<15m)", "M005: PromptPay Relay Dominance"}

		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		got, err := repo.GetTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if got.ReceiverAccount != "MULE-1" || got.Amount != 500 || got.RiskScore != 85 {
			t.Errorf("unexpected transaction %+v", got)
		}
		if got.Action != domain.ActionEscalate {
			t.Errorf("expected action %q, got %q", domain.ActionEscalate, got.Action)
		}
		if len(got.Reasons) != 2 || got.Reasons[1] != "M005: PromptPay Relay Dominance" {
			t.Errorf("unexpected reasons %v", got.Reasons)
		}
		if !got.Timestamp.Equal(base) {
			t.Errorf("expected timestamp %v, got %v", base, got.Timestamp)
		}
	})

	t.Run("RescoreKeepsVerdict", func(t *testing.T) {
		tx := scored("tx-rescore", "A-1", "R-9", 100, 10, base)
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
		if err := repo.UpdateVerification(ctx, "tx-rescore", domain.VerdictConfirmedFraud); err != nil {
			t.Fatalf("UpdateVerification failed: %v", err)
		}

		tx.RiskScore = 70
		tx.Action = domain.ActionReview
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		got, _ := repo.GetTransaction(ctx, "tx-rescore")
		if got.RiskScore != 70 || got.Verdict != domain.VerdictConfirmedFraud {
			t.Errorf("unexpected rescored transaction %+v", got)
		}
	})

	t.Run("RequiresTransactionID", func(t *testing.T) {
		err := repo.SaveTransaction(ctx, scored("", "A", "B", 1, 0, base))
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "nonexistent")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			t.Error("repository ErrNotFound must match the domain sentinel")
		}
	})
}

func TestReceiverContext(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	txs := []*domain.ScoredTransaction{
		scored("g1", "S-1", "GAME-1", 100, 40, base),
		scored("g2", "S-2", "GAME-1", 500, 60, base.Add(time.Minute)),
		scored("g3", "S-2", "GAME-1", 1500, 80, base.Add(2*time.Minute)),
		scored("g4", "S-3", "GAME-1", 250, 20, base.Add(3*time.Minute)),
		scored("o1", "GAME-1", "S-1", 1000, 90, base.Add(4*time.Minute)),
	}
	for _, tx := range txs {
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
	}

	gc, err := repo.GetReceiverContext(ctx, "GAME-1")
	if err != nil {
		t.Fatalf("GetReceiverContext failed: %v", err)
	}

	want := domain.GraphContext{
		IncomingTxCount:       4,
		UniqueSenderCount:     3,
		TotalVolume:           2350,
		AvgIncomingRisk:       50,
		ClusteringAmountCount: 3,
	}
	if *gc != want {
		t.Errorf("expected %+v, got %+v", want, *gc)
	}

	empty, err := repo.GetReceiverContext(ctx, "NOBODY")
	if err != nil {
		t.Fatalf("GetReceiverContext failed: %v", err)
	}
	if *empty != (domain.GraphContext{}) {
		t.Errorf("expected empty context, got %+v", *empty)
	}
}

func TestListRecentTransactions(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		tx := scored("tx-"+strconv.Itoa(i), "A", "B", 100, i*10, base.Add(time.Duration(i)*time.Minute))
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
	}

	t.Run("NewestFirst", func(t *testing.T) {
		txs, err := repo.ListRecentTransactions(ctx, 3, 0)
		if err != nil {
			t.Fatalf("ListRecentTransactions failed: %v", err)
		}
		if len(txs) != 3 {
			t.Fatalf("expected 3 transactions, got %d", len(txs))
		}
		if txs[0].TransactionID != "tx-9" || txs[2].TransactionID != "tx-7" {
			t.Errorf("unexpected order: %s..%s", txs[0].TransactionID, txs[2].TransactionID)
		}
	})

	t.Run("MinRisk", func(t *testing.T) {
		txs, err := repo.ListRecentTransactions(ctx, 100, 65)
		if err != nil {
			t.Fatalf("ListRecentTransactions failed: %v", err)
		}
		if len(txs) != 3 {
			t.Errorf("expected 3 transactions at or above 65, got %d", len(txs))
		}
		for _, tx := range txs {
			if tx.RiskScore < 65 {
				t.Errorf("transaction %s below min risk: %d", tx.TransactionID, tx.RiskScore)
			}
		}
	})

	t.Run("InvalidLimit", func(t *testing.T) {
		if _, err := repo.ListRecentTransactions(ctx, 0, 0); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestAccountHistory(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	txs := []*domain.ScoredTransaction{
		scored("h1", "X", "MULE-2", 100, 90, base),
		scored("h2", "Y", "MULE-2", 100, 85, base.Add(time.Minute)),
		scored("h3", "MULE-2", "Z", 200, 40, base.Add(2*time.Minute)),
		scored("h4", "X", "Y", 50, 10, base.Add(3*time.Minute)),
	}
	for _, tx := range txs {
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
	}

	tests := []struct {
		account  string
		total    int
		avg      float64
		highRisk int
		role     domain.AccountRole
	}{
		{"MULE-2", 3, 215.0 / 3, 2, domain.RoleBoth},
		{"X", 2, 50, 1, domain.RoleSender},
		{"Z", 1, 40, 0, domain.RoleReceiver},
		{"NOBODY", 0, 0, 0, domain.RoleUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.account, func(t *testing.T) {
			h, err := repo.GetAccountHistory(ctx, tt.account, 20)
			if err != nil {
				t.Fatalf("GetAccountHistory failed: %v", err)
			}
			if h.Total != tt.total || h.HighRiskTxns != tt.highRisk || h.Role != tt.role {
				t.Errorf("unexpected history %+v", h)
			}
			if h.AvgRisk != tt.avg {
				t.Errorf("expected avg %.2f, got %.2f", tt.avg, h.AvgRisk)
			}
			if h.Transactions == nil {
				t.Error("transactions must be non-nil")
			}
		})
	}

	h, _ := repo.GetAccountHistory(ctx, "MULE-2", 1)
	if len(h.Transactions) != 1 || h.Transactions[0].TransactionID != "h3" {
		t.Errorf("expected only the newest transaction, got %+v", h.Transactions)
	}
}

func TestVerificationAndReset(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []string{"v1", "v2", "v3"} {
		if err := repo.SaveTransaction(ctx, scored(id, "A", "B", 100, 70, base)); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}
	}

	if err := repo.UpdateVerification(ctx, "v1", domain.VerdictConfirmedFraud); err != nil {
		t.Fatalf("UpdateVerification failed: %v", err)
	}
	if err := repo.UpdateVerification(ctx, "v2", domain.VerdictFalsePositive); err != nil {
		t.Fatalf("UpdateVerification failed: %v", err)
	}

	if err := repo.UpdateVerification(ctx, "missing", domain.VerdictFalsePositive); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := repo.UpdateVerification(ctx, "v3", "MAYBE"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	stats, err := repo.GetVerificationStats(ctx)
	if err != nil {
		t.Fatalf("GetVerificationStats failed: %v", err)
	}
	if stats.Checked != 2 || stats.FalsePositives != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	got, _ := repo.GetTransaction(ctx, "v2")
	if got.Verdict != domain.VerdictFalsePositive {
		t.Errorf("expected verdict FALSE_POSITIVE, got %q", got.Verdict)
	}

	if err := repo.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	stats, _ = repo.GetVerificationStats(ctx)
	if stats.Checked != 0 || stats.FalsePositives != 0 {
		t.Errorf("expected zeroed stats, got %+v", stats)
	}
	txs, _ := repo.ListRecentTransactions(ctx, 10, 0)
	if len(txs) != 0 {
		t.Errorf("expected no transactions after reset, got %d", len(txs))
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heron.db")
	cfg := domain.RepositoryConfig{Driver: "sqlite", SQLitePath: path}

	for i := 0; i < 2; i++ {
		repo, err := New(cfg)
		if err != nil {
			t.Fatalf("open %d failed: %v", i, err)
		}
		stats, err := repo.GetVerificationStats(context.Background())
		if err != nil || stats.Checked != 0 {
			t.Errorf("unexpected stats on open %d: %+v, %v", i, stats, err)
		}
		repo.Close()
	}
}

// Requires a live Postgres: HERON_TEST_POSTGRES=host:port (user/password heron)
func TestPostgresRepository(t *testing.T) {
	addr := os.Getenv("HERON_TEST_POSTGRES")
	if addr == "" {
		t.Skip("HERON_TEST_POSTGRES not set")
	}

	host, portStr, _ := strings.Cut(addr, ":")
	port, _ := strconv.Atoi(portStr)
	repo, err := New(domain.RepositoryConfig{
		Driver:           "postgres",
		PostgresHost:     host,
		PostgresPort:     port,
		PostgresUser:     "heron",
		PostgresPassword: "heron",
		PostgresDB:       "heron",
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	if err := repo.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Second)
	_ = repo.SaveTransaction(ctx, scored("pg-1", "S-1", "R-1", 100, 60, base))
	_ = repo.SaveTransaction(ctx, scored("pg-2", "S-2", "R-1", 300, 80, base.Add(time.Second)))

	gc, err := repo.GetReceiverContext(ctx, "R-1")
	if err != nil {
		t.Fatalf("GetReceiverContext failed: %v", err)
	}
	if gc.IncomingTxCount != 2 || gc.ClusteringAmountCount != 2 || gc.AvgIncomingRisk != 70 {
		t.Errorf("unexpected context %+v", gc)
	}

	txs, err := repo.ListRecentTransactions(ctx, 10, 65.5)
	if err != nil || len(txs) != 1 {
		t.Errorf("expected 1 transaction, got %d (%v)", len(txs), err)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected invalid input for unsupported driver, got %v", err)
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn := sqliteDSN(domain.RepositoryConfig{SQLitePath: "/data/heron.db", SQLiteBusyTimeout: 2 * time.Second})

	path, query, ok := strings.Cut(dsn, "?")
	if !ok || path != "file:/data/heron.db" {
		t.Fatalf("unexpected dsn %q", dsn)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		t.Fatalf("dsn query does not parse: %v", err)
	}
	pragmas := strings.Join(values["_pragma"], ",")
	for _, want := range []string{"journal_mode(WAL)", "busy_timeout(2000)", "foreign_keys(ON)"} {
		if !strings.Contains(pragmas, want) {
			t.Errorf("expected pragma %s in %q", want, pragmas)
		}
	}
	if values.Get("_txlock") != "immediate" {
		t.Errorf("expected immediate write transactions, got %q", values.Get("_txlock"))
	}

	if dsn := sqliteDSN(domain.RepositoryConfig{}); !strings.HasPrefix(dsn, "file:./heron.db?") || !strings.Contains(dsn, "busy_timeout%285000%29") {
		t.Errorf("unexpected default dsn %q", dsn)
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{
		PostgresHost:     "db.internal",
		PostgresUser:     "heron",
		PostgresPassword: "p@ss word/1",
	})

	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("dsn does not parse: %v", err)
	}
	if u.Host != "db.internal:5432" || u.Path != "/heron" {
		t.Errorf("unexpected host/db in %q", dsn)
	}
	if pw, _ := u.User.Password(); u.User.Username() != "heron" || pw != "p@ss word/1" {
		t.Errorf("credentials did not round-trip: %q", dsn)
	}
	q := u.Query()
	if q.Get("sslmode") != "disable" || q.Get("application_name") != "heron" || q.Get("connect_timeout") != "5" {
		t.Errorf("unexpected parameters %v", q)
	}
}

func TestPoolDefaults(t *testing.T) {
	pg := poolDefaults(domain.RepositoryConfig{Driver: "postgres"})
	if pg.MaxOpenConns != 25 || pg.MaxIdleConns != 10 || pg.ConnMaxLifetime != 30*time.Minute {
		t.Errorf("unexpected postgres pool %+v", pg)
	}

	custom := poolDefaults(domain.RepositoryConfig{Driver: "postgres", MaxOpenConns: 50})
	if custom.MaxOpenConns != 50 {
		t.Errorf("explicit pool size overridden: %d", custom.MaxOpenConns)
	}

	repo := newTestRepo(t)
	if got := repo.db.Stats().MaxOpenConnections; got != 4 {
		t.Errorf("expected sqlite pool of 4, got %d", got)
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}

	sqlite := &SQLRepository{driver: "sqlite"}
	if got := sqlite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind changed query: %q", got)
	}
}
