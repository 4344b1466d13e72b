package organization

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/jmoiron/sqlx"

	"integrations-gateway/internal/domain"
)

// Роли участников (system_roles.code основного приложения)
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ManagerRoles - роли, которым разрешено управлять интеграциями
var ManagerRoles = []string{RoleOwner, RoleAdmin}

// Resolver возвращает роль пользователя в организации; пустая строка - не участник.
// Сами организации и участники принадлежат основному приложению.
type Resolver interface {
	Role(ctx context.Context, userID, organizationID string) (string, error)
}

// PostgresResolver читает таблицы organization_members и system_roles основного приложения
type PostgresResolver struct {
	db *sqlx.DB
}

// NewPostgresResolver создает резолвер
func NewPostgresResolver(db *sqlx.DB) *PostgresResolver {
	return &PostgresResolver{db: db}
}

// Role возвращает код роли. Участник без роли считается member.
func (r *PostgresResolver) Role(ctx context.Context, userID, organizationID string) (string, error) {
	query := `
        SELECT COALESCE(sr.code, 'member')
        FROM organization_members om
        LEFT JOIN system_roles sr ON sr.id = om.role_id
        WHERE om.user_id = $1 AND om.organization_id::text = $2
        LIMIT 1
    `
	var role string
	err := r.db.GetContext(ctx, &role, query, userID, organizationID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", domain.Persistence("resolve organization role", err)
	}
	return role, nil
}

// StaticResolver - роли в памяти (локальный запуск, тесты)
type StaticResolver struct {
	mu      sync.RWMutex
	members map[string]map[string]string
}

// NewStaticResolver создает пустой резолвер
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{members: make(map[string]map[string]string)}
}

// Add добавляет пользователя в организацию с ролью
func (r *StaticResolver) Add(userID, organizationID, role string) *StaticResolver {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[organizationID] == nil {
		r.members[organizationID] = make(map[string]string)
	}
	r.members[organizationID][userID] = role
	return r
}

// Role возвращает роль пользователя
func (r *StaticResolver) Role(_ context.Context, userID, organizationID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members[organizationID][userID], nil
}
