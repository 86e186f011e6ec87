package server

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/dDoc/lib/docdb"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/VictoriaMetrics/metrics"
)

func NewIDocStoreServerAdapter() IRPCServerAdapter {
	return &iDocStoreServerAdapterImpl{}
}

type iDocStoreServerAdapterImpl struct{}

func (adapter *iDocStoreServerAdapterImpl) Handle(req *common.Message, s store.IDocStore) (resp *common.Message) {
	if s == nil {
		return common.NewErrorResponse(store.RetCInternalError, "handler: store is nil")
	}

	start := time.Now()
	defer func() {
		status := "ok"
		if resp.Err != "" {
			status = store.RetCode(resp.Code).String()
		}
		metrics.GetOrCreateCounter(fmt.Sprintf(`ddoc_rpc_requests_total{type=%q,status=%q}`, req.MsgType, status)).Inc()
		metrics.GetOrCreateHistogram(fmt.Sprintf(`ddoc_rpc_request_duration_seconds{type=%q}`, req.MsgType)).UpdateDuration(start)
	}()

	switch req.MsgType {
	case common.MsgTDocGet:
		doc, found, err := s.Get(req.Key)
		return common.NewGetResponse(doc, found, err)
	case common.MsgTDocInsert:
		version, err := s.Insert(req.Key, req.Fields, time.Duration(req.ExpireIn), req.Durability())
		return common.NewWriteResponse(req.MsgType, version, err)
	case common.MsgTDocAdd:
		version, err := s.Add(req.Key, req.Fields, time.Duration(req.ExpireIn), req.Durability())
		return common.NewWriteResponse(req.MsgType, version, err)
	case common.MsgTDocCAS:
		version, err := s.CompareAndSwap(req.Key, store.Version(req.Version), req.Fields, req.Durability())
		return common.NewWriteResponse(req.MsgType, version, err)
	case common.MsgTDocDelete:
		return common.NewDeleteResponse(s.Delete(req.Key))
	case common.MsgTDocResolveView:
		view, err := s.ResolveView(store.ViewID{DesignDoc: req.DesignDoc, View: req.View})
		return common.NewResolveViewResponse(view, err)
	case common.MsgTDocRangeQuery:
		view := &store.ViewHandle{ID: store.ViewID{DesignDoc: req.DesignDoc, View: req.View}, Emit: req.Emit}
		page, err := s.RangeQuery(view, req.StartKey, req.Limit)
		return common.NewRangeQueryResponse(page, err)
	case common.MsgTDocInfo:
		provider, ok := s.(store.IInfoProvider)
		if !ok {
			return common.NewInfoResponse(docdb.DatabaseInfo{}, store.NewError(store.RetCUnsupportedOperation, "store does not report database info"))
		}
		return common.NewInfoResponse(provider.GetDBInfo())
	default:
		return common.NewErrorResponse(store.RetCInvalidOperation,
			fmt.Sprintf("RPC IDocStoreAdapter - Unsupported message type: %s", req.MsgType))
	}
}
