package main

import (
	"context"
	"errors"
	"net/http"

	"dev.acmcsuf.com/lampd"
	"github.com/go-chi/chi/v5"
	"libdb.so/hrt"
)

var hrtOpts = hrt.Opts{
	Encoder: hrt.CombinedEncoder{
		Encoder: hrt.JSONEncoder,
		Decoder: hrt.URLDecoder,
	},
	ErrorWriter: hrt.TextErrorWriter,
}

type adminHandler struct {
	*chi.Mux
	store   *lampd.PropertyStore
	viewers *lampd.Server
}

func newAdminHandler(store *lampd.PropertyStore, viewers *lampd.Server) *adminHandler {
	h := &adminHandler{
		Mux:     chi.NewRouter(),
		store:   store,
		viewers: viewers,
	}

	h.Use(hrt.Use(hrtOpts))

	h.Post("/properties/set", hrt.Wrap(h.setProperty))
	h.Post("/kick-viewers", hrt.Wrap(h.kickViewers))

	return h
}

type setPropertyRequest struct {
	ID    string `query:"id"`
	Value string `query:"value"`
}

type setPropertyResponse struct {
	Properties map[lampd.PropertyID]string `json:"properties"`
}

func (h *adminHandler) setProperty(ctx context.Context, req setPropertyRequest) (setPropertyResponse, error) {
	if err := h.store.Set(lampd.PropertyID(req.ID), req.Value); err != nil {
		var parseErr *lampd.ParseError
		switch {
		case errors.As(err, &parseErr):
			return setPropertyResponse{}, hrt.WrapHTTPError(http.StatusBadRequest, err)
		case errors.Is(err, lampd.ErrUnknownProperty):
			return setPropertyResponse{}, hrt.WrapHTTPError(http.StatusNotFound, err)
		default:
			return setPropertyResponse{}, hrt.WrapHTTPError(http.StatusForbidden, err)
		}
	}
	return setPropertyResponse{Properties: h.store.Values()}, nil
}

type kickViewersRequest struct {
	Reason string `query:"reason"`
}

func (h *adminHandler) kickViewers(ctx context.Context, req kickViewersRequest) (hrt.None, error) {
	h.viewers.KickAllConnections(req.Reason)
	return hrt.Empty, nil
}
