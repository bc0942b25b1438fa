package api

import (
	"context"
	"net/http"
	"net/url"

	perrors "github.com/mycelian/vendor-presence/internal/errors"
	"github.com/mycelian/vendor-presence/internal/transport"
	"github.com/mycelian/vendor-presence/internal/types"
)

// UpsertLocation creates the vendor's location record or updates the
// existing one. The backend keys the record by the authenticated vendor.
func UpsertLocation(ctx context.Context, s transport.Sender, req types.UpsertLocationRequest) (*types.PublishedLocation, error) {
	var loc types.PublishedLocation
	_, err := call(ctx, s, transport.Request{
		Method:    http.MethodPost,
		Path:      "/api/vendor-locations",
		Body:      req,
		Operation: "upsert location",
	}, &loc, http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, err
	}
	if loc.ID == "" {
		return nil, perrors.Protocolf("upsert location: response has no id")
	}
	return &loc, nil
}

// ListLocations fetches the vendor's current location record(s).
func ListLocations(ctx context.Context, s transport.Sender) ([]types.PublishedLocation, error) {
	var lr types.ListLocationsResponse
	_, err := call(ctx, s, transport.Request{
		Method:    http.MethodGet,
		Path:      "/api/vendor-locations",
		Operation: "list locations",
	}, &lr, http.StatusOK)
	if err != nil {
		return nil, err
	}
	return lr.Locations, nil
}

// DeleteLocation removes a location record. 404 counts as success: the
// record is already gone, which is the state the caller wants.
func DeleteLocation(ctx context.Context, s transport.Sender, locationID string) error {
	if err := types.ValidateID("location id", locationID); err != nil {
		return err
	}
	_, err := call(ctx, s, transport.Request{
		Method:    http.MethodDelete,
		Path:      pathf("/api/vendor-locations/%s", url.PathEscape(locationID)),
		Operation: "delete location",
	}, nil, http.StatusNoContent, http.StatusOK, http.StatusNotFound)
	return err
}
