package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"wisefido-admin/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func readBodyJSON(r *http.Request, maxBytes int64, out any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

// partitionFromReq 从请求头解析分区
// 租户解析/认证中间件在上游完成，这里只消费它写入的头：
// X-Tenant-Id 非空 = 租户分区，空 = 平台分区。
func partitionFromReq(r *http.Request) domain.Partition {
	if tenantID := r.Header.Get("X-Tenant-Id"); tenantID != "" {
		return domain.TenantPartition(tenantID)
	}
	return domain.PlatformPartition()
}

// actorFromReq 从请求头解析访问主体
// X-Actor-Elevated: "true" = 平台超管 / 租户 owner；
// X-Actor-Role: 普通持有者的角色 id；X-Actor-Id: 账号 id。
func actorFromReq(r *http.Request) domain.Actor {
	return domain.Actor{
		Part:     partitionFromReq(r),
		UserID:   r.Header.Get("X-Actor-Id"),
		RoleID:   r.Header.Get("X-Actor-Role"),
		Elevated: r.Header.Get("X-Actor-Elevated") == "true",
	}
}
