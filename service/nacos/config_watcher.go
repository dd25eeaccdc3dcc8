package nacos

import (
	"context"

	"PPSeq/logger"
	"PPSeq/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// ConfigSource config_client.IConfigClient 的子集
type ConfigSource interface {
	GetConfig(param vo.ConfigParam) (string, error)
	ListenConfig(param vo.ConfigParam) error
	CancelListenConfig(param vo.ConfigParam) error
}

// Merger *config.Loader 实现
type Merger interface {
	MergeYAML(content string) error
}

// Fetch 启动时同步拉一次远端配置，合并后再构造各组件
func Fetch(src ConfigSource, dataID, group string, m Merger) error {
	content, err := src.GetConfig(vo.ConfigParam{DataId: dataID, Group: group})
	if err != nil {
		return errs.WrapMsg(err, "nacos get config", "dataId", dataID, "group", group)
	}
	if err := m.MergeYAML(content); err != nil {
		return err
	}
	logger.Info("nacos config merged", zap.String("dataId", dataID), zap.Int("bytes", len(content)))
	return nil
}

// Watch 监听变更直到 ctx 结束；推送解析失败只记日志，保留旧配置
func Watch(ctx context.Context, src ConfigSource, dataID, group string, m Merger) error {
	log := logger.Named("nacos").With(zap.String("dataId", dataID), zap.String("group", group))
	param := vo.ConfigParam{
		DataId: dataID,
		Group:  group,
		OnChange: func(_, _, _, data string) {
			if err := m.MergeYAML(data); err != nil {
				log.Error("remote config rejected", zap.Error(err))
				return
			}
			log.Info("remote config changed", zap.Int("bytes", len(data)))
		},
	}
	if err := src.ListenConfig(param); err != nil {
		return errs.WrapMsg(err, "nacos listen config", "dataId", dataID, "group", group)
	}

	<-ctx.Done()
	if err := src.CancelListenConfig(vo.ConfigParam{DataId: dataID, Group: group}); err != nil {
		log.Warn("cancel listen failed", zap.Error(err))
	}
	return nil
}
