package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AgentRecord is the persisted form of a registered agent.
type AgentRecord struct {
	AgentID      string
	Name         string
	Description  string
	Capabilities []string
	Endpoints    []string
	Owner        string
	PricingModel string
	BasePrice    int64
	Token        string
	Version      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// EndpointRecord is the persisted form of a fee-gated HTTP endpoint.
type EndpointRecord struct {
	EndpointID  string
	Name        string
	Description string
	URL         string
	Price       int64
	Token       string
	Owner       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EndpointFilter narrows an endpoint search. Zero values mean "no filter".
type EndpointFilter struct {
	Owner    string
	Token    string
	MaxPrice int64 // 0 = unbounded
	Query    string
}

// InsertAgent stores a new agent record.
func (db *Database) InsertAgent(rec *AgentRecord) error {
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}
	endpoints, err := json.Marshal(rec.Endpoints)
	if err != nil {
		return fmt.Errorf("failed to encode endpoints: %w", err)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err = db.Exec(
		db.rebind(`INSERT INTO agents (agent_id, name, description, capabilities, endpoints, owner,
			pricing_model, base_price, token, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.AgentID, rec.Name, rec.Description, string(caps), string(endpoints), rec.Owner,
		rec.PricingModel, rec.BasePrice, rec.Token, rec.Version, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// FindAgent returns the agent with the given id, or (nil, nil) when absent.
func (db *Database) FindAgent(agentID string) (*AgentRecord, error) {
	row := db.QueryRow(
		db.rebind(`SELECT agent_id, name, description, capabilities, endpoints, owner,
			pricing_model, base_price, token, version, created_at, updated_at
		 FROM agents WHERE agent_id = ?`), agentID)

	rec, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query agent: %w", err)
	}
	return rec, nil
}

// ListAgents returns all agents in insertion order.
func (db *Database) ListAgents() ([]*AgentRecord, error) {
	rows, err := db.Query(
		`SELECT agent_id, name, description, capabilities, endpoints, owner,
			pricing_model, base_price, token, version, created_at, updated_at
		 FROM agents ORDER BY created_at, agent_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var records []*AgentRecord
	for rows.Next() {
		rec, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateAgent rewrites the mutable fields of an existing agent record.
func (db *Database) UpdateAgent(rec *AgentRecord) error {
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("failed to encode capabilities: %w", err)
	}
	endpoints, err := json.Marshal(rec.Endpoints)
	if err != nil {
		return fmt.Errorf("failed to encode endpoints: %w", err)
	}

	result, err := db.Exec(
		db.rebind(`UPDATE agents SET name = ?, description = ?, capabilities = ?, endpoints = ?,
			pricing_model = ?, base_price = ?, token = ?, version = ?, updated_at = ?
		 WHERE agent_id = ?`),
		rec.Name, rec.Description, string(caps), string(endpoints),
		rec.PricingModel, rec.BasePrice, rec.Token, rec.Version, time.Now().UTC(),
		rec.AgentID,
	)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// InsertEndpoint stores a new endpoint record.
func (db *Database) InsertEndpoint(rec *EndpointRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := db.Exec(
		db.rebind(`INSERT INTO endpoints (endpoint_id, name, description, url, price, token, owner, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.EndpointID, rec.Name, rec.Description, rec.URL, rec.Price, rec.Token, rec.Owner,
		rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert endpoint: %w", err)
	}
	return nil
}

// FindEndpoint returns the endpoint with the given id, or (nil, nil) when absent.
func (db *Database) FindEndpoint(endpointID string) (*EndpointRecord, error) {
	row := db.QueryRow(
		db.rebind(`SELECT endpoint_id, name, description, url, price, token, owner, created_at, updated_at
		 FROM endpoints WHERE endpoint_id = ?`), endpointID)

	rec := &EndpointRecord{}
	err := row.Scan(&rec.EndpointID, &rec.Name, &rec.Description, &rec.URL,
		&rec.Price, &rec.Token, &rec.Owner, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoint: %w", err)
	}
	return rec, nil
}

// SearchEndpoints returns endpoints matching the filter, newest first.
func (db *Database) SearchEndpoints(filter EndpointFilter) ([]*EndpointRecord, error) {
	query := `SELECT endpoint_id, name, description, url, price, token, owner, created_at, updated_at
		 FROM endpoints`
	var clauses []string
	var args []interface{}

	if filter.Owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, filter.Owner)
	}
	if filter.Token != "" {
		clauses = append(clauses, "token = ?")
		args = append(args, filter.Token)
	}
	if filter.MaxPrice > 0 {
		clauses = append(clauses, "price <= ?")
		args = append(args, filter.MaxPrice)
	}
	if filter.Query != "" {
		clauses = append(clauses, "(name LIKE ? OR description LIKE ?)")
		like := "%" + filter.Query + "%"
		args = append(args, like, like)
	}

	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, endpoint_id"

	rows, err := db.Query(db.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search endpoints: %w", err)
	}
	defer rows.Close()

	var records []*EndpointRecord
	for rows.Next() {
		rec := &EndpointRecord{}
		if err := rows.Scan(&rec.EndpointID, &rec.Name, &rec.Description, &rec.URL,
			&rec.Price, &rec.Token, &rec.Owner, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpdateEndpoint rewrites the mutable fields of an existing endpoint record.
func (db *Database) UpdateEndpoint(rec *EndpointRecord) error {
	result, err := db.Exec(
		db.rebind(`UPDATE endpoints SET name = ?, description = ?, url = ?, price = ?, token = ?, updated_at = ?
		 WHERE endpoint_id = ?`),
		rec.Name, rec.Description, rec.URL, rec.Price, rec.Token, time.Now().UTC(), rec.EndpointID,
	)
	if err != nil {
		return fmt.Errorf("failed to update endpoint: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteEndpoint removes an endpoint record. Returns sql.ErrNoRows when absent.
func (db *Database) DeleteEndpoint(endpointID string) error {
	result, err := db.Exec(db.rebind("DELETE FROM endpoints WHERE endpoint_id = ?"), endpointID)
	if err != nil {
		return fmt.Errorf("failed to delete endpoint: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row scannable) (*AgentRecord, error) {
	rec := &AgentRecord{}
	var caps, endpoints string
	err := row.Scan(&rec.AgentID, &rec.Name, &rec.Description, &caps, &endpoints, &rec.Owner,
		&rec.PricingModel, &rec.BasePrice, &rec.Token, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &rec.Capabilities); err != nil {
		return nil, fmt.Errorf("corrupt capabilities column for %s: %w", rec.AgentID, err)
	}
	if err := json.Unmarshal([]byte(endpoints), &rec.Endpoints); err != nil {
		return nil, fmt.Errorf("corrupt endpoints column for %s: %w", rec.AgentID, err)
	}
	return rec, nil
}
