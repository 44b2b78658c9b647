package service

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"wisefido-admin/internal/domain"
	"wisefido-admin/internal/repository"
)

// RoleExportService 角色权限矩阵导出
// 给运营后台生成一张 Excel：每行一个角色，每列一个目录权限，
// 单元格标 D（直接授予）/ I（继承）。
type RoleExportService struct {
	roles    repository.RolesRepository
	perms    repository.PermissionsRepository
	resolver *PermissionService
	logger   *zap.Logger
}

// NewRoleExportService 创建导出服务
func NewRoleExportService(roles repository.RolesRepository, perms repository.PermissionsRepository, resolver *PermissionService, logger *zap.Logger) *RoleExportService {
	return &RoleExportService{
		roles:    roles,
		perms:    perms,
		resolver: resolver,
		logger:   logger,
	}
}

// 固定列（权限列跟在后面）
var roleExportFixedHeader = []string{
	"Role Code",
	"Role Name",
	"Level",
	"Path",
	"System",
	"Active",
}

// ExportPermissionMatrix 导出分区的角色×权限矩阵
func (s *RoleExportService) ExportPermissionMatrix(ctx context.Context, part domain.Partition) ([]byte, error) {
	roles, err := s.roles.AllRoles(ctx, part)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}
	catalog, err := s.perms.AllEnabled(ctx, part.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to load permission catalog: %w", err)
	}

	f := excelize.NewFile()
	// Note: Don't defer Close() here, because WriteTo needs the file to be open

	sheetName := "Role Permissions"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	// 表头：固定列 + 每个目录权限一列
	header := append(append([]string{}, roleExportFixedHeader...), permissionCodes(catalog)...)
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}

	// 数据行
	for rowIdx, role := range roles {
		own, err := s.roles.PermissionIDsOf(ctx, part, role.RoleID)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to load role permissions: %w", err)
		}
		effective, err := s.resolver.EffectivePermissionIDs(ctx, part, role.RoleID)
		if err != nil {
			f.Close()
			return nil, err
		}
		ownSet := toSet(own)
		effSet := toSet(effective)

		row := []any{
			role.RoleCode,
			role.RoleName,
			role.Level,
			role.Path,
			boolMark(role.IsSystem),
			boolMark(role.IsActive),
		}
		for _, p := range catalog {
			switch {
			case ownSet[p.PermissionID]:
				row = append(row, "D")
			case effSet[p.PermissionID]:
				row = append(row, "I")
			default:
				row = append(row, "")
			}
		}
		cell, _ := excelize.CoordinatesToCellName(1, rowIdx+2)
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write row: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to serialize workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}

	s.logger.Info("role permission matrix exported",
		zap.String("partition", part.CacheKey()),
		zap.Int("roles", len(roles)),
		zap.Int("permissions", len(catalog)))
	return buf.Bytes(), nil
}

func permissionCodes(perms []*domain.Permission) []string {
	codes := make([]string, 0, len(perms))
	for _, p := range perms {
		codes = append(codes, strings.TrimSpace(p.Code))
	}
	return codes
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func boolMark(b bool) string {
	if b {
		return "Y"
	}
	return ""
}
