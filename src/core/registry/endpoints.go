package registry

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pbtc21/x402-registry/src/core/database"
)

// Endpoint is a fee-gated HTTP endpoint registered by a provider.
type Endpoint struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	URL         string    `json:"url"`
	Price       int64     `json:"price"`
	Token       Token     `json:"token"`
	Owner       string    `json:"owner"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// EndpointRegistrationRequest is the inbound endpoint payload.
type EndpointRegistrationRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	Price       int64  `json:"price"`
	Token       Token  `json:"token"`
	Owner       string `json:"owner"`
}

// EndpointSearchFilter narrows endpoint discovery.
type EndpointSearchFilter struct {
	Owner    string
	Token    string
	MaxPrice int64
	Query    string
}

// EndpointService exposes CRUD over persisted fee-gated endpoints. Unlike
// agents, endpoints support delete.
type EndpointService struct {
	db        *database.Database
	validator *AgentRegistrationValidator
}

// NewEndpointService creates an endpoint service over the database.
func NewEndpointService(db *database.Database) *EndpointService {
	return &EndpointService{
		db:        db,
		validator: NewAgentRegistrationValidator(),
	}
}

// Register stores a new endpoint and returns it with its assigned id.
func (s *EndpointService) Register(req *EndpointRegistrationRequest) (*Endpoint, error) {
	if err := s.validator.ValidateEndpointRegistration(req); err != nil {
		return nil, err
	}

	rec := &database.EndpointRecord{
		EndpointID:  uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		URL:         req.URL,
		Price:       req.Price,
		Token:       string(req.Token),
		Owner:       req.Owner,
	}
	if err := s.db.InsertEndpoint(rec); err != nil {
		return nil, err
	}
	s.db.RecordEvent("register_endpoint", rec.EndpointID, "")
	return recordToEndpoint(rec), nil
}

// Get returns the endpoint with the given id.
func (s *EndpointService) Get(id string) (*Endpoint, error) {
	rec, err := s.db.FindEndpoint(id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, NotFoundError{Resource: "endpoint", ID: id}
	}
	return recordToEndpoint(rec), nil
}

// Search returns endpoints matching the filter.
func (s *EndpointService) Search(filter EndpointSearchFilter) ([]*Endpoint, error) {
	records, err := s.db.SearchEndpoints(database.EndpointFilter{
		Owner:    filter.Owner,
		Token:    filter.Token,
		MaxPrice: filter.MaxPrice,
		Query:    filter.Query,
	})
	if err != nil {
		return nil, err
	}
	endpoints := make([]*Endpoint, 0, len(records))
	for _, rec := range records {
		endpoints = append(endpoints, recordToEndpoint(rec))
	}
	return endpoints, nil
}

// Update rewrites the mutable fields of an endpoint. Owner is immutable.
func (s *EndpointService) Update(id string, req *EndpointRegistrationRequest) (*Endpoint, error) {
	existing, err := s.Get(id)
	if err != nil {
		return nil, err
	}

	// Re-validate the merged payload with the original owner.
	merged := &EndpointRegistrationRequest{
		Name:        req.Name,
		Description: req.Description,
		URL:         req.URL,
		Price:       req.Price,
		Token:       req.Token,
		Owner:       existing.Owner,
	}
	if err := s.validator.ValidateEndpointRegistration(merged); err != nil {
		return nil, err
	}

	rec := &database.EndpointRecord{
		EndpointID:  id,
		Name:        merged.Name,
		Description: merged.Description,
		URL:         merged.URL,
		Price:       merged.Price,
		Token:       string(merged.Token),
	}
	if err := s.db.UpdateEndpoint(rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NotFoundError{Resource: "endpoint", ID: id}
		}
		return nil, err
	}
	s.db.RecordEvent("update_endpoint", id, "")
	return s.Get(id)
}

// Delete removes an endpoint.
func (s *EndpointService) Delete(id string) error {
	if err := s.db.DeleteEndpoint(id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return NotFoundError{Resource: "endpoint", ID: id}
		}
		return err
	}
	s.db.RecordEvent("delete_endpoint", id, "")
	return nil
}

func recordToEndpoint(rec *database.EndpointRecord) *Endpoint {
	return &Endpoint{
		ID:          rec.EndpointID,
		Name:        rec.Name,
		Description: rec.Description,
		URL:         rec.URL,
		Price:       rec.Price,
		Token:       Token(rec.Token),
		Owner:       rec.Owner,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}
