package application

import (
	"context"

	rules "devicehub/internal/alarmrules/domain"
)

// DynamicValueResolver resolves dynamic operand values from device, customer
// and tenant scope. Device-scope values come from the snapshot; customer and
// tenant values are server-scope attributes read through the attribute store.
// The device's current customer id is cached and invalidated on reassignment.
type DynamicValueResolver struct {
	tenantID string
	deviceID string
	collab   Collaborators

	customerID      string
	customerFetched bool
}

// NewDynamicValueResolver builds a resolver for one device.
func NewDynamicValueResolver(tenantID, deviceID string, collab Collaborators) *DynamicValueResolver {
	return &DynamicValueResolver{tenantID: tenantID, deviceID: deviceID, collab: collab}
}

// ResetCustomer drops the cached customer id after a reassignment event.
func (r *DynamicValueResolver) ResetCustomer() {
	r.customerID = ""
	r.customerFetched = false
}

// Resolve looks up a dynamic value starting at the descriptor's source scope,
// falling through to the next outer scope while inherit is set. A nil result
// with a nil error means the attribute is absent everywhere in reach.
func (r *DynamicValueResolver) Resolve(ctx context.Context, snapshot *DataSnapshot, dynamic *rules.DynamicValue) (*rules.EntityKeyValue, error) {
	if dynamic == nil || dynamic.SourceAttribute == "" {
		return nil, nil
	}
	key := rules.AttributeKey(dynamic.SourceAttribute)

	switch dynamic.SourceType {
	case rules.SourceCurrentDevice:
		if value, ok := snapshot.Value(key); ok {
			return &value, nil
		}
		if !dynamic.Inherit {
			return nil, nil
		}
		fallthrough
	case rules.SourceCurrentCustomer:
		value, err := r.customerValue(ctx, dynamic.SourceAttribute)
		if err != nil {
			return nil, err
		}
		if value != nil || (!dynamic.Inherit && dynamic.SourceType == rules.SourceCurrentCustomer) {
			return value, nil
		}
		fallthrough
	case rules.SourceCurrentTenant:
		return r.tenantValue(ctx, dynamic.SourceAttribute)
	default:
		return nil, nil
	}
}

func (r *DynamicValueResolver) customerValue(ctx context.Context, attribute string) (*rules.EntityKeyValue, error) {
	customerID, err := r.resolveCustomerID(ctx)
	if err != nil {
		return nil, err
	}
	if customerID == "" {
		return nil, nil
	}
	entry, err := r.collab.Attributes.Find(ctx, r.tenantID, customerID, ScopeServer, attribute)
	if err != nil || entry == nil {
		return nil, err
	}
	value := entry.Value
	return &value, nil
}

func (r *DynamicValueResolver) tenantValue(ctx context.Context, attribute string) (*rules.EntityKeyValue, error) {
	entry, err := r.collab.Attributes.Find(ctx, r.tenantID, r.tenantID, ScopeServer, attribute)
	if err != nil || entry == nil {
		return nil, err
	}
	value := entry.Value
	return &value, nil
}

func (r *DynamicValueResolver) resolveCustomerID(ctx context.Context) (string, error) {
	if r.customerFetched {
		return r.customerID, nil
	}
	device, err := r.collab.Directory.FindDeviceByID(ctx, r.tenantID, r.deviceID)
	if err != nil {
		return "", err
	}
	if device != nil {
		r.customerID = device.CustomerID
	}
	r.customerFetched = true
	return r.customerID, nil
}
