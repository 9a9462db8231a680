package service

import (
	"fmt"

	"github.com/go-ldap/ldap/v3"
	"github.com/samber/lo"

	"bluegreen-cd/internal/pkg/config"
	"bluegreen-cd/pkg/constants"
	pkgErrors "bluegreen-cd/pkg/responses"
)

// TeamIdentity 通过认证后的操作者身份
type TeamIdentity struct {
	TeamID   string `json:"team_id"`
	Actor    string `json:"actor"`
	Role     string `json:"role"`
	AuthType string `json:"auth_type"`
}

// LDAPService LDAP身份校验
type LDAPService interface {
	Authenticate(username, password string) (*TeamIdentity, error)
}

type ldapService struct {
	cfg *config.LDAPConfig
}

func NewLDAPService(cfg *config.LDAPConfig) LDAPService {
	return &ldapService{
		cfg: cfg,
	}
}

// Authenticate 验证用户名密码并根据组成员关系映射角色
func (s *ldapService) Authenticate(username, password string) (*TeamIdentity, error) {
	if !s.cfg.Enabled {
		return nil, pkgErrors.New(pkgErrors.CodeAuthError, "LDAP认证未启用")
	}

	conn, err := s.connect()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	userDN, teamID, groups, err := s.searchUser(conn, username)
	if err != nil {
		return nil, err
	}

	// 验证密码
	if err := conn.Bind(userDN, password); err != nil {
		return nil, pkgErrors.New(pkgErrors.CodeUnauthorized, "用户名或密码错误")
	}

	return &TeamIdentity{
		TeamID:   teamID,
		Actor:    username,
		Role:     s.roleFromGroups(groups),
		AuthType: constants.AuthTypeLDAP,
	}, nil
}

// roleFromGroups 组到角色: admin组 > deploy组 > 默认viewer
func (s *ldapService) roleFromGroups(groups []string) string {
	if s.cfg.AdminGroup != "" && lo.Contains(groups, s.cfg.AdminGroup) {
		return constants.RoleAdmin
	}
	if s.cfg.DeployGroup != "" && lo.Contains(groups, s.cfg.DeployGroup) {
		return constants.RoleDeployer
	}
	return constants.RoleViewer
}

func (s *ldapService) connect() (*ldap.Conn, error) {
	var conn *ldap.Conn
	var err error

	address := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	if s.cfg.UseSSL {
		conn, err = ldap.DialTLS("tcp", address, nil)
	} else {
		conn, err = ldap.Dial("tcp", address)
	}

	if err != nil {
		return nil, pkgErrors.Wrap(pkgErrors.CodeAuthError, "LDAP连接失败", err)
	}

	// 使用管理员账号绑定
	if err := conn.Bind(s.cfg.BindDN, s.cfg.BindPassword); err != nil {
		conn.Close()
		return nil, pkgErrors.Wrap(pkgErrors.CodeAuthError, "LDAP绑定失败", err)
	}

	return conn, nil
}

func (s *ldapService) searchUser(conn *ldap.Conn, username string) (string, string, []string, error) {
	filter := fmt.Sprintf(s.cfg.UserFilter, ldap.EscapeFilter(username))

	searchRequest := ldap.NewSearchRequest(
		s.cfg.BaseDN,
		ldap.ScopeWholeSubtree,
		ldap.NeverDerefAliases,
		0,
		0,
		false,
		filter,
		[]string{"uid", "ou", "memberOf"},
		nil,
	)

	result, err := conn.Search(searchRequest)
	if err != nil {
		return "", "", nil, pkgErrors.Wrap(pkgErrors.CodeAuthError, "LDAP搜索失败", err)
	}

	if len(result.Entries) == 0 {
		return "", "", nil, pkgErrors.New(pkgErrors.CodeUnauthorized, "用户不存在")
	}
	if len(result.Entries) > 1 {
		return "", "", nil, pkgErrors.New(pkgErrors.CodeAuthError, "找到多个匹配的用户")
	}

	entry := result.Entries[0]
	teamID := entry.GetAttributeValue("ou")
	if teamID == "" {
		teamID = "default"
	}
	return entry.DN, teamID, entry.GetAttributeValues("memberOf"), nil
}
