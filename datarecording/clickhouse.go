package datarecording

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/tebeka/atexit"
)

// ClickHouseConfig tells where a ClickHouse recorder writes.
type ClickHouseConfig struct {
	Addr      string
	Database  string
	Username  string
	Password  string
	BatchSize int
}

// clickHouseRecorder writes events and exec info into ClickHouse. It only
// knows the tables of this package and batches them without reflection.
type clickHouseRecorder struct {
	conn      clickhouse.Conn
	mu        sync.Mutex
	batchSize int

	tables     map[string]string
	tableNames []string
	events     map[string][]Event
	execInfos  map[string][]ExecInfo
	entryCount int
}

// NewClickHouseRecorder connects to ClickHouse and returns a DataRecorder
// that accepts Event and ExecInfo tables.
func NewClickHouseRecorder(config ClickHouseConfig) (DataRecorder, error) {
	if config.BatchSize == 0 {
		config.BatchSize = 100000
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{config.Addr},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		DialTimeout:      time.Second * 30,
		MaxOpenConns:     5,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	r := &clickHouseRecorder{
		conn:      conn,
		batchSize: config.BatchSize,
		tables:    make(map[string]string),
		events:    make(map[string][]Event),
		execInfos: make(map[string][]ExecInfo),
	}

	atexit.Register(func() { r.Flush() })

	return r, nil
}

func (r *clickHouseRecorder) CreateTable(tableName string, sampleEntry any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var createSQL, kind string

	switch sampleEntry.(type) {
	case Event:
		kind = EventTable
		createSQL = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				ID String,
				Time Int64,
				Position String,
				ContextID String,
				Class String,
				Selector String,
				Synthetic Bool,
				Mode String,
				Result String,
				Detail String
			) ENGINE = MergeTree()
			ORDER BY Time
		`, tableName)
	case ExecInfo:
		kind = ExecTable
		createSQL = fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				Property String,
				Value String
			) ENGINE = MergeTree()
			ORDER BY Property
		`, tableName)
	default:
		panic(fmt.Sprintf("ClickHouse cannot record entries of type %T",
			sampleEntry))
	}

	err := r.conn.Exec(context.Background(), createSQL)
	if err != nil {
		panic(fmt.Errorf("failed to create table %s: %w", tableName, err))
	}

	r.tables[tableName] = kind
	r.tableNames = append(r.tableNames, tableName)
}

func (r *clickHouseRecorder) InsertData(tableName string, entry any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.tables[tableName]; !found {
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	switch e := entry.(type) {
	case Event:
		r.events[tableName] = append(r.events[tableName], e)
	case ExecInfo:
		r.execInfos[tableName] = append(r.execInfos[tableName], e)
	default:
		panic(fmt.Sprintf("ClickHouse cannot record entries of type %T", entry))
	}

	r.entryCount++
	if r.entryCount >= r.batchSize {
		r.flushLocked()
	}
}

func (r *clickHouseRecorder) ListTables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.tableNames...)
}

func (r *clickHouseRecorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.flushLocked()
}

func (r *clickHouseRecorder) flushLocked() {
	if r.entryCount == 0 {
		return
	}

	ctx := context.Background()

	for _, tableName := range r.tableNames {
		switch r.tables[tableName] {
		case EventTable:
			r.flushEvents(ctx, tableName)
		case ExecTable:
			r.flushExecInfo(ctx, tableName)
		}
	}

	r.entryCount = 0
}

func (r *clickHouseRecorder) flushEvents(ctx context.Context, tableName string) {
	events := r.events[tableName]
	if len(events) == 0 {
		return
	}

	batch, err := r.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", tableName))
	if err != nil {
		panic(fmt.Errorf("failed to prepare batch for %s: %w", tableName, err))
	}

	for _, e := range events {
		err = batch.Append(e.ID, e.Time, e.Position, e.ContextID, e.Class,
			e.Selector, e.Synthetic, e.Mode, e.Result, e.Detail)
		if err != nil {
			panic(fmt.Errorf("failed to append to batch: %w", err))
		}
	}

	if err := batch.Send(); err != nil {
		panic(fmt.Errorf("failed to send batch: %w", err))
	}

	r.events[tableName] = events[:0]
}

func (r *clickHouseRecorder) flushExecInfo(ctx context.Context, tableName string) {
	execInfos := r.execInfos[tableName]
	if len(execInfos) == 0 {
		return
	}

	batch, err := r.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", tableName))
	if err != nil {
		panic(fmt.Errorf("failed to prepare batch for %s: %w", tableName, err))
	}

	for _, e := range execInfos {
		if err := batch.Append(e.Property, e.Value); err != nil {
			panic(fmt.Errorf("failed to append to batch: %w", err))
		}
	}

	if err := batch.Send(); err != nil {
		panic(fmt.Errorf("failed to send batch: %w", err))
	}

	r.execInfos[tableName] = execInfos[:0]
}

// Close flushes remaining data and closes the connection
func (r *clickHouseRecorder) Close() error {
	r.Flush()

	if err := r.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}

	return nil
}
