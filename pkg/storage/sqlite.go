package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/agentworld-dev/runtime/pkg/idutil"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// SQLiteStore implements StorageAPI over a single modernc.org/sqlite
// database file: WAL-mode pragma configuration, transaction-wrapped
// multi-table writes, and errors.Wrap at every I/O boundary.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if necessary) the database at dbPath,
// configures it for WAL-mode concurrent access, and creates the schema
// if absent.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	if err := configurePragmas(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to configure database")
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}
	return s, nil
}

func configurePragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := db.ExecContext(pctx, p)
		cancel()
		if err != nil {
			return errors.Wrapf(err, "failed to execute pragma: %s", p)
		}
	}

	var journalMode string
	qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := db.QueryRowContext(qctx, "PRAGMA journal_mode").Scan(&journalMode)
	cancel()
	if err != nil {
		return errors.Wrap(err, "failed to query journal mode")
	}
	if !strings.EqualFold(journalMode, "wal") && !strings.EqualFold(journalMode, "memory") {
		return errors.Errorf("WAL mode not enabled, current mode: %s", journalMode)
	}
	return nil
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS worlds (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			turn_limit INTEGER NOT NULL,
			main_agent TEXT,
			chat_llm_provider TEXT,
			chat_llm_model TEXT,
			mcp_config TEXT,
			variables TEXT,
			current_chat_id TEXT,
			created_at TEXT NOT NULL,
			last_updated TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			world_id TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT,
			provider TEXT,
			model TEXT,
			system_prompt TEXT,
			temperature REAL,
			max_tokens INTEGER,
			auto_reply INTEGER NOT NULL DEFAULT 1,
			status TEXT,
			llm_call_count INTEGER NOT NULL DEFAULT 0,
			last_active TEXT,
			last_llm_call TEXT,
			PRIMARY KEY (world_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			world_id TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (world_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS memory (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			world_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			sender TEXT,
			created_at TEXT NOT NULL,
			tool_calls TEXT,
			tool_call_id TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_scope ON memory(world_id, agent_id, chat_id)`,
		`CREATE TABLE IF NOT EXISTS archived_memory (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			world_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT,
			sender TEXT,
			created_at TEXT NOT NULL,
			tool_calls TEXT,
			tool_call_id TEXT,
			archived_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			world_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS edit_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			world_id TEXT NOT NULL,
			message_id TEXT,
			new_content TEXT,
			chat_id TEXT,
			resubmission_status TEXT,
			resubmission_error TEXT,
			recorded_at TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to execute schema statement: %s", stmt)
		}
	}
	return nil
}

func rfc(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseRFC(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- World CRUD ---

func (s *SQLiteStore) CreateWorld(ctx context.Context, w types.World) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO worlds (id, name, description, turn_limit, main_agent, chat_llm_provider,
			chat_llm_model, mcp_config, variables, current_chat_id, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.Name, w.Description, w.TurnLimit, w.MainAgent, w.ChatLLMProvider,
		w.ChatLLMModel, w.MCPConfig, w.Variables, w.CurrentChatID, rfc(w.CreatedAt), rfc(w.LastUpdated))
	if err != nil {
		return errors.Wrap(err, "failed to create world")
	}
	return nil
}

func (s *SQLiteStore) GetWorld(ctx context.Context, id string) (types.World, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, turn_limit, main_agent, chat_llm_provider,
			chat_llm_model, mcp_config, variables, current_chat_id, created_at, last_updated
		FROM worlds WHERE id = ?`, id)

	var w types.World
	var createdAt, updatedAt string
	err := row.Scan(&w.ID, &w.Name, &w.Description, &w.TurnLimit, &w.MainAgent, &w.ChatLLMProvider,
		&w.ChatLLMModel, &w.MCPConfig, &w.Variables, &w.CurrentChatID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return types.World{}, false, nil
	}
	if err != nil {
		return types.World{}, false, errors.Wrap(err, "failed to load world")
	}
	w.CreatedAt = parseRFC(createdAt)
	w.LastUpdated = parseRFC(updatedAt)
	return w, true, nil
}

func (s *SQLiteStore) UpdateWorld(ctx context.Context, w types.World) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE worlds SET name=?, description=?, turn_limit=?, main_agent=?, chat_llm_provider=?,
			chat_llm_model=?, mcp_config=?, variables=?, current_chat_id=?, last_updated=?
		WHERE id=?`,
		w.Name, w.Description, w.TurnLimit, w.MainAgent, w.ChatLLMProvider,
		w.ChatLLMModel, w.MCPConfig, w.Variables, w.CurrentChatID, rfc(w.LastUpdated), w.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update world")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrWorldNotFound, "world not found: "+w.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteWorld(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM memory WHERE world_id = ?",
		"DELETE FROM archived_memory WHERE world_id = ?",
		"DELETE FROM chats WHERE world_id = ?",
		"DELETE FROM agents WHERE world_id = ?",
		"DELETE FROM events WHERE world_id = ?",
		"DELETE FROM edit_log WHERE world_id = ?",
		"DELETE FROM worlds WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return errors.Wrapf(err, "failed to execute: %s", stmt)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListWorlds(ctx context.Context) ([]types.World, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, turn_limit, main_agent, chat_llm_provider,
			chat_llm_model, mcp_config, variables, current_chat_id, created_at, last_updated
		FROM worlds ORDER BY created_at ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list worlds")
	}
	defer rows.Close()

	var out []types.World
	for rows.Next() {
		var w types.World
		var createdAt, updatedAt string
		if err := rows.Scan(&w.ID, &w.Name, &w.Description, &w.TurnLimit, &w.MainAgent, &w.ChatLLMProvider,
			&w.ChatLLMModel, &w.MCPConfig, &w.Variables, &w.CurrentChatID, &createdAt, &updatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan world row")
		}
		w.CreatedAt = parseRFC(createdAt)
		w.LastUpdated = parseRFC(updatedAt)
		out = append(out, w)
	}
	return out, rows.Err()
}

// --- Agent CRUD ---

func (s *SQLiteStore) CreateAgent(ctx context.Context, worldID string, a types.Agent) error {
	return s.upsertAgent(ctx, worldID, a, "INSERT INTO agents")
}

func (s *SQLiteStore) upsertAgent(ctx context.Context, worldID string, a types.Agent, verb string) error {
	autoReply := 0
	if a.AutoReply {
		autoReply = 1
	}
	query := verb + ` (world_id, id, name, type, provider, model, system_prompt, temperature,
		max_tokens, auto_reply, status, llm_call_count, last_active, last_llm_call)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query, worldID, a.ID, a.Name, a.Type, a.Provider, a.Model, a.SystemPrompt,
		a.Temperature, a.MaxTokens, autoReply, a.Status, a.LLMCallCount, rfc(a.LastActive), rfc(a.LastLLMCall))
	if err != nil {
		return errors.Wrap(err, "failed to write agent")
	}
	return nil
}

func (s *SQLiteStore) GetAgent(ctx context.Context, worldID, agentID string) (types.Agent, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, provider, model, system_prompt, temperature, max_tokens,
			auto_reply, status, llm_call_count, last_active, last_llm_call
		FROM agents WHERE world_id = ? AND id = ?`, worldID, agentID)

	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return types.Agent{}, false, nil
	}
	if err != nil {
		return types.Agent{}, false, errors.Wrap(err, "failed to load agent")
	}
	memory, err := s.GetMemory(ctx, worldID, agentID, "")
	if err == nil {
		a.Memory = memory
	}
	return a, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (types.Agent, error) {
	var a types.Agent
	var autoReply int
	var lastActive, lastLLMCall string
	err := row.Scan(&a.ID, &a.Name, &a.Type, &a.Provider, &a.Model, &a.SystemPrompt, &a.Temperature,
		&a.MaxTokens, &autoReply, &a.Status, &a.LLMCallCount, &lastActive, &lastLLMCall)
	if err != nil {
		return a, err
	}
	a.AutoReply = autoReply != 0
	a.LastActive = parseRFC(lastActive)
	a.LastLLMCall = parseRFC(lastLLMCall)
	return a, nil
}

func (s *SQLiteStore) UpdateAgent(ctx context.Context, worldID string, a types.Agent) error {
	autoReply := 0
	if a.AutoReply {
		autoReply = 1
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET name=?, type=?, provider=?, model=?, system_prompt=?, temperature=?,
			max_tokens=?, auto_reply=?, status=?, llm_call_count=?, last_active=?, last_llm_call=?
		WHERE world_id=? AND id=?`,
		a.Name, a.Type, a.Provider, a.Model, a.SystemPrompt, a.Temperature, a.MaxTokens,
		autoReply, a.Status, a.LLMCallCount, rfc(a.LastActive), rfc(a.LastLLMCall), worldID, a.ID)
	if err != nil {
		return errors.Wrap(err, "failed to update agent")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.NewError(types.ErrAgentNotFound, "agent not found: "+a.ID)
	}
	return nil
}

func (s *SQLiteStore) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM memory WHERE world_id=? AND agent_id=?", worldID, agentID); err != nil {
		return errors.Wrap(err, "failed to delete agent memory")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM agents WHERE world_id=? AND id=?", worldID, agentID); err != nil {
		return errors.Wrap(err, "failed to delete agent")
	}
	return tx.Commit()
}

func (s *SQLiteStore) ListAgents(ctx context.Context, worldID string) ([]types.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, provider, model, system_prompt, temperature, max_tokens,
			auto_reply, status, llm_call_count, last_active, last_llm_call
		FROM agents WHERE world_id = ?`, worldID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list agents")
	}
	defer rows.Close()

	var out []types.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan agent row")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Chat CRUD ---

func (s *SQLiteStore) CreateChat(ctx context.Context, worldID string, c types.Chat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (world_id, id, name, created_at, updated_at, message_count)
		VALUES (?, ?, ?, ?, ?, ?)`, worldID, c.ID, c.Name, rfc(c.CreatedAt), rfc(c.UpdatedAt), c.MessageCount)
	if err != nil {
		return errors.Wrap(err, "failed to create chat")
	}
	return nil
}

func (s *SQLiteStore) GetChat(ctx context.Context, worldID, chatID string) (types.Chat, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at, message_count FROM chats
		WHERE world_id = ? AND id = ?`, worldID, chatID)
	var c types.Chat
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.Name, &createdAt, &updatedAt, &c.MessageCount)
	if err == sql.ErrNoRows {
		return types.Chat{}, false, nil
	}
	if err != nil {
		return types.Chat{}, false, errors.Wrap(err, "failed to load chat")
	}
	c.WorldID = worldID
	c.CreatedAt = parseRFC(createdAt)
	c.UpdatedAt = parseRFC(updatedAt)
	return c, true, nil
}

func (s *SQLiteStore) ListChats(ctx context.Context, worldID string) ([]ChatSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at, updated_at, message_count FROM chats WHERE world_id = ?`, worldID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list chats")
	}
	defer rows.Close()

	var out []ChatSnapshot
	for rows.Next() {
		var c types.Chat
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.Name, &createdAt, &updatedAt, &c.MessageCount); err != nil {
			return nil, errors.Wrap(err, "failed to scan chat row")
		}
		c.WorldID = worldID
		c.CreatedAt = parseRFC(createdAt)
		c.UpdatedAt = parseRFC(updatedAt)
		out = append(out, ChatSnapshot{Chat: c, LastActivity: c.UpdatedAt})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteChat(ctx context.Context, worldID, chatID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE world_id=? AND id=?", worldID, chatID)
	if err != nil {
		return errors.Wrap(err, "failed to delete chat")
	}
	return nil
}

func (s *SQLiteStore) UpdateChatNameIfCurrent(ctx context.Context, worldID, chatID, expectedCurrentName, newName string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chats SET name=?, updated_at=? WHERE world_id=? AND id=? AND name=?`,
		newName, rfc(time.Now()), worldID, chatID, expectedCurrentName)
	if err != nil {
		return false, errors.Wrap(err, "failed to rename chat")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- Memory ---

func (s *SQLiteStore) GetMemory(ctx context.Context, worldID, agentID, chatID string) ([]types.AgentMessage, error) {
	query := `SELECT seq, message_id, role, content, sender, chat_id, created_at, tool_calls, tool_call_id
		FROM memory WHERE world_id = ? AND agent_id = ?`
	args := []any{worldID, agentID}
	if chatID != "" {
		query += " AND chat_id = ?"
		args = append(args, chatID)
	}
	query += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load memory")
	}

	var msgs []types.AgentMessage
	var seqs []int64
	var missingIDs []int
	for rows.Next() {
		var seq int64
		var m types.AgentMessage
		var role, createdAt, toolCalls, toolCallID string
		if err := rows.Scan(&seq, &m.MessageID, &role, &m.Content, &m.Sender, &m.ChatID, &createdAt, &toolCalls, &toolCallID); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan memory row")
		}
		m.Role = types.MessageRole(role)
		m.CreatedAt = parseRFC(createdAt)
		m.AgentID = agentID
		m.ToolCallID = toolCallID
		if toolCalls != "" {
			_ = json.Unmarshal([]byte(toolCalls), &m.ToolCalls)
		}
		if m.MessageID == "" {
			missingIDs = append(missingIDs, len(msgs))
		}
		msgs = append(msgs, m)
		seqs = append(seqs, seq)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating memory rows")
	}

	if len(missingIDs) == 0 {
		return msgs, nil
	}

	// Idempotent messageId backfill for legacy rows.
	migrated, _ := MigrateMessageIDs(msgs)
	for _, idx := range missingIDs {
		if _, err := s.db.ExecContext(ctx, "UPDATE memory SET message_id=? WHERE seq=?", migrated[idx].MessageID, seqs[idx]); err != nil {
			return nil, errors.Wrap(err, "failed to backfill message id")
		}
	}
	return migrated, nil
}

func (s *SQLiteStore) AppendMemory(ctx context.Context, worldID, agentID, chatID string, msgs ...types.AgentMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	for _, m := range msgs {
		toolCalls := ""
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return errors.Wrap(err, "failed to marshal tool calls")
			}
			toolCalls = string(b)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO memory (world_id, agent_id, chat_id, message_id, role, content, sender,
				created_at, tool_calls, tool_call_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			worldID, agentID, chatID, m.MessageID, string(m.Role), m.Content, m.Sender,
			rfc(m.CreatedAt), toolCalls, m.ToolCallID)
		if err != nil {
			return errors.Wrap(err, "failed to append memory")
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) RemoveMessagesFrom(ctx context.Context, worldID, chatID string, cutoff time.Time) (bool, int, error) {
	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM chats WHERE world_id=? AND id=?", worldID, chatID).Scan(&exists); err != nil {
		return false, 0, errors.Wrap(err, "failed to check chat existence")
	}
	if exists == 0 {
		return false, 0, nil
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM memory WHERE world_id = ? AND chat_id = ? AND created_at >= ?",
		worldID, chatID, rfc(cutoff))
	if err != nil {
		return false, 0, errors.Wrap(err, "failed to remove messages")
	}
	n, _ := res.RowsAffected()
	return true, int(n), nil
}

func (s *SQLiteStore) DeleteMemoryByChatID(ctx context.Context, worldID, chatID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM memory WHERE world_id=? AND chat_id=?", worldID, chatID)
	if err != nil {
		return errors.Wrap(err, "failed to delete memory by chat")
	}
	return nil
}

func (s *SQLiteStore) DeleteAgentMemory(ctx context.Context, worldID, agentID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM memory WHERE world_id=? AND agent_id=?", worldID, agentID)
	if err != nil {
		return errors.Wrap(err, "failed to delete agent memory")
	}
	return nil
}

func (s *SQLiteStore) ArchiveMemory(ctx context.Context, worldID, agentID string, msgs []types.AgentMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	now := rfc(time.Now())
	for _, m := range msgs {
		toolCalls := ""
		if len(m.ToolCalls) > 0 {
			b, err := json.Marshal(m.ToolCalls)
			if err != nil {
				return errors.Wrap(err, "failed to marshal tool calls")
			}
			toolCalls = string(b)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO archived_memory (world_id, agent_id, chat_id, message_id, role, content,
				sender, created_at, tool_calls, tool_call_id, archived_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			worldID, agentID, m.ChatID, m.MessageID, string(m.Role), m.Content, m.Sender,
			rfc(m.CreatedAt), toolCalls, m.ToolCallID, now)
		if err != nil {
			return errors.Wrap(err, "failed to archive memory")
		}
	}
	return tx.Commit()
}

// --- Integrity ---

func (s *SQLiteStore) ValidateIntegrity(ctx context.Context, worldID string) (IntegrityReport, error) {
	report := IntegrityReport{WorldID: worldID}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.message_id FROM memory m
		LEFT JOIN chats c ON c.world_id = m.world_id AND c.id = m.chat_id
		WHERE m.world_id = ? AND c.id IS NULL`, worldID)
	if err != nil {
		return report, errors.Wrap(err, "failed to query orphaned messages")
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			report.OrphanedMessages = append(report.OrphanedMessages, id)
		}
	}
	rows.Close()

	var missing int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM memory WHERE world_id=? AND (message_id IS NULL OR message_id = '')",
		worldID).Scan(&missing); err != nil {
		return report, errors.Wrap(err, "failed to count missing message ids")
	}
	report.MissingMessageIDs = missing

	dupRows, err := s.db.QueryContext(ctx, `
		SELECT message_id FROM memory WHERE world_id = ? AND message_id != ''
		GROUP BY agent_id, chat_id, message_id HAVING COUNT(*) > 1`, worldID)
	if err != nil {
		return report, errors.Wrap(err, "failed to query duplicate message ids")
	}
	for dupRows.Next() {
		var id string
		if err := dupRows.Scan(&id); err == nil {
			report.DuplicateMessageIDs = append(report.DuplicateMessageIDs, id)
		}
	}
	dupRows.Close()

	return report, nil
}

func (s *SQLiteStore) RepairData(ctx context.Context, worldID string, report IntegrityReport) error {
	for _, id := range report.OrphanedMessages {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM memory WHERE world_id=? AND message_id=?", worldID, id); err != nil {
			return errors.Wrap(err, "failed to repair orphaned message")
		}
	}
	if report.MissingMessageIDs > 0 {
		rows, err := s.db.QueryContext(ctx,
			"SELECT seq FROM memory WHERE world_id=? AND (message_id IS NULL OR message_id='')", worldID)
		if err != nil {
			return errors.Wrap(err, "failed to query rows needing message ids")
		}
		var seqs []int64
		for rows.Next() {
			var seq int64
			if err := rows.Scan(&seq); err == nil {
				seqs = append(seqs, seq)
			}
		}
		rows.Close()
		for _, seq := range seqs {
			if _, err := s.db.ExecContext(ctx, "UPDATE memory SET message_id=? WHERE seq=?",
				idutil.NewMessageID(), seq); err != nil {
				return errors.Wrap(err, "failed to backfill message id during repair")
			}
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- Optional capabilities: EventStorage, EditLogWriter ---

func (s *SQLiteStore) AppendEvent(ctx context.Context, worldID string, ev types.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}
	_, err = s.db.ExecContext(ctx, "INSERT INTO events (world_id, kind, payload, created_at) VALUES (?, ?, ?, ?)",
		worldID, string(ev.Kind), string(payload), rfc(time.Now()))
	if err != nil {
		return errors.Wrap(err, "failed to append event")
	}
	return nil
}

func (s *SQLiteStore) AppendEditLog(worldID string, entry EditLogEntry) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO edit_log (world_id, message_id, new_content, chat_id, resubmission_status,
			resubmission_error, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		worldID, entry.MessageID, entry.NewContent, entry.ChatID, entry.ResubmissionStatus,
		entry.ResubmissionError, rfc(entry.RecordedAt))
	if err != nil {
		return errors.Wrap(err, "failed to append edit log entry")
	}
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM edit_log WHERE world_id = ? AND seq NOT IN (
			SELECT seq FROM edit_log WHERE world_id = ? ORDER BY seq DESC LIMIT ?
		)`, worldID, worldID, MaxEditLogEntries); err != nil {
		return errors.Wrap(err, "failed to trim edit log")
	}
	return nil
}
