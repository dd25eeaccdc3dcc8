package nacos

import (
	"strings"
	"sync"

	"PPSeq/logger"
	"PPSeq/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// Naming naming_client.INamingClient 的子集
type Naming interface {
	RegisterInstance(param vo.RegisterInstanceParam) (bool, error)
	DeregisterInstance(param vo.DeregisterInstanceParam) (bool, error)
}

// Registry 把本节点注册为临时实例，metadata 带节点ID与角色，网关按 nodeId 做跨节点推送
type Registry struct {
	ServiceName string
	IP          string
	Port        uint64
	Group       string

	client Naming
	log    *zap.Logger

	mu         sync.Mutex
	meta       map[string]string
	registered bool
}

func NewRegistry(client Naming, serviceName, ip string, port uint64) *Registry {
	return &Registry{
		ServiceName: serviceName,
		IP:          ip,
		Port:        port,
		Group:       "DEFAULT_GROUP",
		client:      client,
		meta:        make(map[string]string),
		log:         logger.Named("nacos.registry"),
	}
}

// Register nodeID 与 roles 写入 metadata
func (r *Registry) Register(nodeID string, roles []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta["nodeId"] = nodeID
	r.meta["roles"] = strings.Join(roles, ",")
	return r.register()
}

// SetMeta 更新一个 metadata 字段，已注册时重新注册生效
func (r *Registry) SetMeta(k, v string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.meta[k] == v {
		return nil
	}
	r.meta[k] = v
	if !r.registered {
		return nil
	}
	return r.register()
}

func (r *Registry) register() error {
	meta := make(map[string]string, len(r.meta))
	for k, v := range r.meta {
		meta[k] = v
	}
	ok, err := r.client.RegisterInstance(vo.RegisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		Weight:      10,
		Enable:      true,
		Healthy:     true,
		Ephemeral:   true,
		Metadata:    meta,
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos register", "service", r.ServiceName, "ip", r.IP, "port", r.Port)
	}
	if !ok {
		return errs.New("nacos register rejected", "service", r.ServiceName)
	}
	r.registered = true
	r.log.Info("instance registered", zap.String("service", r.ServiceName), zap.Any("meta", meta))
	return nil
}

// Deregister 关停时先摘除实例
func (r *Registry) Deregister() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.registered {
		return nil
	}
	_, err := r.client.DeregisterInstance(vo.DeregisterInstanceParam{
		Ip:          r.IP,
		Port:        r.Port,
		ServiceName: r.ServiceName,
		GroupName:   r.Group,
		Ephemeral:   true,
	})
	if err != nil {
		return errs.WrapMsg(err, "nacos deregister", "service", r.ServiceName)
	}
	r.registered = false
	return nil
}
