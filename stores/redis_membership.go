package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
)

// RedisMembershipSource keeps user->role and user->group membership in
// Redis sets for hot lookup paths. Keys are tenant-scoped:
// permit:roles:{tenant}:{user} and permit:groups:{tenant}:{user}.
// It implements permit.MembershipSource; the Assign/Remove helpers keep
// the sets in step with the primary store.
type RedisMembershipSource struct {
	client *redis.Client
}

func NewRedisMembershipSource(client *redis.Client) *RedisMembershipSource {
	return &RedisMembershipSource{client: client}
}

func (r *RedisMembershipSource) roleKey(tenant permit.TenantID, userID string) string {
	return fmt.Sprintf("permit:roles:%s:%s", tenant, userID)
}

func (r *RedisMembershipSource) groupKey(tenant permit.TenantID, userID string) string {
	return fmt.Sprintf("permit:groups:%s:%s", tenant, userID)
}

func (r *RedisMembershipSource) AssignRole(ctx context.Context, tenant permit.TenantID, userID, roleID string) error {
	return r.client.SAdd(ctx, r.roleKey(tenant, userID), roleID).Err()
}

func (r *RedisMembershipSource) RevokeRole(ctx context.Context, tenant permit.TenantID, userID, roleID string) error {
	return r.client.SRem(ctx, r.roleKey(tenant, userID), roleID).Err()
}

func (r *RedisMembershipSource) RoleIDsOf(ctx context.Context, tenant permit.TenantID, userID string) ([]string, error) {
	return r.client.SMembers(ctx, r.roleKey(tenant, userID)).Result()
}

func (r *RedisMembershipSource) AddToGroup(ctx context.Context, tenant permit.TenantID, userID, groupID string) error {
	return r.client.SAdd(ctx, r.groupKey(tenant, userID), groupID).Err()
}

func (r *RedisMembershipSource) RemoveFromGroup(ctx context.Context, tenant permit.TenantID, userID, groupID string) error {
	return r.client.SRem(ctx, r.groupKey(tenant, userID), groupID).Err()
}

func (r *RedisMembershipSource) GroupIDsOf(ctx context.Context, tenant permit.TenantID, userID string) ([]string, error) {
	return r.client.SMembers(ctx, r.groupKey(tenant, userID)).Result()
}
