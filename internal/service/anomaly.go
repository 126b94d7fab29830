package service

import (
	"DealerWatch/internal/interfaces"
	"DealerWatch/internal/metrics"
	"DealerWatch/internal/model"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// AnomalyService 读取已提交的事件日志、运行检测并持久化异常记录
type AnomalyService struct {
	dealers   interfaces.DealerStore
	history   interfaces.HistoryStore
	anomalies interfaces.AnomalyStore
	detector  *AnomalyDetector
	logger    *logrus.Logger
}

func NewAnomalyService(dealers interfaces.DealerStore, history interfaces.HistoryStore, anomalies interfaces.AnomalyStore, detector *AnomalyDetector, logger *logrus.Logger) *AnomalyService {
	return &AnomalyService{
		dealers:   dealers,
		history:   history,
		anomalies: anomalies,
		detector:  detector,
		logger:    logger,
	}
}

// DetectDealer 返回本次检测到的全部异常；已存在的（相同指纹）不会重复写入
func (s *AnomalyService) DetectDealer(ctx context.Context, dealerID string) ([]*model.AnomalyRecord, error) {
	if _, err := s.dealers.GetDealer(ctx, dealerID); err != nil {
		return nil, err
	}
	events, err := s.history.GetDealerHistory(ctx, dealerID)
	if err != nil {
		return nil, err
	}

	records := s.detector.Analyze(ctx, dealerID, events)
	saved := 0
	for _, rec := range records {
		inserted, err := s.anomalies.SaveAnomaly(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("保存异常失败: %w", err)
		}
		if inserted {
			saved++
			metrics.AnomaliesDetectedTotal.WithLabelValues(string(rec.Type)).Inc()
		}
	}

	s.logger.WithFields(logrus.Fields{
		"dealer_id": dealerID,
		"events":    len(events),
		"detected":  len(records),
		"new":       saved,
	}).Info("异常检测完成")
	return records, nil
}

func (s *AnomalyService) ListAnomalies(ctx context.Context, dealerID, status string) ([]*model.AnomalyRecord, error) {
	return s.anomalies.ListAnomalies(ctx, dealerID, status)
}

func (s *AnomalyService) UpdateStatus(ctx context.Context, id, status string) error {
	return s.anomalies.UpdateAnomalyStatus(ctx, id, status)
}
