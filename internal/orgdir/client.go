package orgdir

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/psds-microservice/support-chat-service/internal/model"
	"gorm.io/gorm"
)

// Client читает справочник организаций. Если baseURL задан — из внешнего
// org-directory (GET /orgs), иначе из локальной таблицы organizations.
// Справочник нужен только селектору "начать новый тикет".
type Client struct {
	baseURL    string
	db         *gorm.DB
	httpClient *http.Client
}

func NewClient(baseURL string, db *gorm.DB) *Client {
	return &Client{
		baseURL: baseURL,
		db:      db,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// ListOrganizations — организации по алфавиту display name.
func (c *Client) ListOrganizations(ctx context.Context) ([]model.Organization, error) {
	if c.baseURL == "" {
		return c.listLocal(ctx)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/orgs", nil)
	if err != nil {
		return nil, fmt.Errorf("orgdir: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orgdir: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("orgdir: status %d", resp.StatusCode)
	}
	var orgs []model.Organization
	if err := json.NewDecoder(resp.Body).Decode(&orgs); err != nil {
		return nil, fmt.Errorf("orgdir: decode: %w", err)
	}
	return orgs, nil
}

func (c *Client) listLocal(ctx context.Context) ([]model.Organization, error) {
	var orgs []model.Organization
	if err := c.db.WithContext(ctx).Order("display_name ASC").Find(&orgs).Error; err != nil {
		return nil, err
	}
	return orgs, nil
}

// SyncLocal забирает справочник из внешнего сервиса и апсертит локальную
// таблицу (используется командой sync-orgs). Возвращает число записей.
func (c *Client) SyncLocal(ctx context.Context) (int, error) {
	if c.baseURL == "" {
		return 0, fmt.Errorf("orgdir: ORG_DIRECTORY_URL is not set")
	}
	orgs, err := c.ListOrganizations(ctx)
	if err != nil {
		return 0, err
	}
	for i := range orgs {
		if err := c.db.WithContext(ctx).Save(&orgs[i]).Error; err != nil {
			return i, fmt.Errorf("orgdir: save %s: %w", orgs[i].ID, err)
		}
	}
	return len(orgs), nil
}
