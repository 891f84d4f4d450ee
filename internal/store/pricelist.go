package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tendermatch/internal/model"
)

// UpsertPriceListItem inserts or refreshes a catalog line. Identity is
// (commessa_id, product_id) when the product id is set; otherwise the
// caller resolves identity through the catalog index and passes an
// existing row id.
func (s *Store) UpsertPriceListItem(ctx context.Context, q dbtx, item *model.PriceListItem) error {
	if q == nil {
		q = s.db
	}
	priceListsJSON, err := marshalJSONColumn(item.PriceLists)
	if err != nil {
		return err
	}
	metaJSON, err := marshalJSONColumn(item.Metadata)
	if err != nil {
		return err
	}

	if item.ID == 0 && item.ProductID != "" {
		var existing int64
		err := q.QueryRowContext(ctx,
			`SELECT id FROM price_list_items WHERE commessa_id = ? AND product_id = ?`,
			item.CommessaID, item.ProductID).Scan(&existing)
		if err == nil {
			item.ID = existing
		} else if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}

	if item.ID != 0 {
		_, err := q.ExecContext(ctx, `
			UPDATE price_list_items SET
				product_id = ?, item_code = ?, item_description = ?, unit_id = ?, unit_label = ?,
				wbs6_code = ?, wbs6_description = ?, wbs7_code = ?, wbs7_description = ?,
				price_lists = ?, extra_metadata = ?, source_file = ?, preventivo_id = ?,
				updated_at = strftime('%Y-%m-%d %H:%M:%f','now')
			WHERE id = ?`,
			item.ProductID, item.ItemCode, item.ItemDescription, item.UnitID, item.UnitLabel,
			item.WBS6Code, item.WBS6Description, item.WBS7Code, item.WBS7Description,
			priceListsJSON, metaJSON, item.SourceFile, item.PreventivoID, item.ID)
		return err
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO price_list_items (
			commessa_id, product_id, item_code, item_description, unit_id, unit_label,
			wbs6_code, wbs6_description, wbs7_code, wbs7_description,
			price_lists, extra_metadata, source_file, preventivo_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.CommessaID, item.ProductID, item.ItemCode, item.ItemDescription, item.UnitID, item.UnitLabel,
		item.WBS6Code, item.WBS6Description, item.WBS7Code, item.WBS7Description,
		priceListsJSON, metaJSON, item.SourceFile, item.PreventivoID)
	if err != nil {
		return fmt.Errorf("insert price list item: %w", err)
	}
	item.ID, _ = res.LastInsertId()
	return nil
}

// GetPriceListItem loads one catalog line by id.
func (s *Store) GetPriceListItem(ctx context.Context, id int64) (*model.PriceListItem, error) {
	items, err := s.queryItems(ctx, nil, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: voce di listino %d", model.ErrNotFound, id)
	}
	return items[0], nil
}

// GetPriceListItems loads catalog lines by id, skipping missing ones.
func (s *Store) GetPriceListItems(ctx context.Context, ids []int64) (map[int64]*model.PriceListItem, error) {
	out := make(map[int64]*model.PriceListItem, len(ids))
	for _, id := range ids {
		item, err := s.GetPriceListItem(ctx, id)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out[id] = item
	}
	return out, nil
}

// ListPriceListItems returns the whole catalog of a commessa. Pass the
// enclosing tx when called inside a transaction.
func (s *Store) ListPriceListItems(ctx context.Context, q dbtx, commessaID int64) ([]*model.PriceListItem, error) {
	return s.queryItems(ctx, q, `WHERE commessa_id = ? ORDER BY id`, commessaID)
}

func (s *Store) queryItems(ctx context.Context, q dbtx, where string, args ...any) ([]*model.PriceListItem, error) {
	if q == nil {
		q = s.db
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, commessa_id, product_id, item_code, item_description, unit_id, unit_label,
			wbs6_code, wbs6_description, wbs7_code, wbs7_description,
			price_lists, extra_metadata, source_file, preventivo_id, created_at, updated_at
		FROM price_list_items `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PriceListItem
	for rows.Next() {
		var it model.PriceListItem
		var priceListsJSON, metaJSON sql.NullString
		if err := rows.Scan(
			&it.ID, &it.CommessaID, &it.ProductID, &it.ItemCode, &it.ItemDescription,
			&it.UnitID, &it.UnitLabel,
			&it.WBS6Code, &it.WBS6Description, &it.WBS7Code, &it.WBS7Description,
			&priceListsJSON, &metaJSON, &it.SourceFile, &it.PreventivoID,
			&it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, err
		}
		if priceListsJSON.Valid && priceListsJSON.String != "" {
			_ = json.Unmarshal([]byte(priceListsJSON.String), &it.PriceLists)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &it.Metadata)
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

// TouchPriceListItem bumps updated_at, invalidating analysis caches.
func (s *Store) TouchPriceListItem(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE price_list_items SET updated_at = strftime('%Y-%m-%d %H:%M:%f','now') WHERE id = ?`, id)
	return err
}

// DeleteOffersForComputo wipes the offer rows of one return import.
func (s *Store) DeleteOffersForComputo(ctx context.Context, q dbtx, computoID int64) error {
	if q == nil {
		q = s.db
	}
	_, err := q.ExecContext(ctx, `DELETE FROM price_list_offers WHERE computo_id = ?`, computoID)
	return err
}

// UpsertPriceListOffer writes one bidder price for a catalog line in a
// return, keyed by (computo_id, price_list_item_id). A second write
// for the same key overwrites.
func (s *Store) UpsertPriceListOffer(ctx context.Context, q dbtx, offer *model.PriceListOffer) error {
	if q == nil {
		q = s.db
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO price_list_offers (
			price_list_item_id, commessa_id, computo_id, impresa_id, impresa_label,
			round_number, unit_price, quantity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(computo_id, price_list_item_id) DO UPDATE SET
			unit_price = excluded.unit_price,
			quantity = excluded.quantity,
			impresa_id = excluded.impresa_id,
			impresa_label = excluded.impresa_label,
			round_number = excluded.round_number,
			updated_at = strftime('%Y-%m-%d %H:%M:%f','now')`,
		offer.PriceListItemID, offer.CommessaID, offer.ComputoID, offer.ImpresaID,
		offer.ImpresaLabel, offer.RoundNumber, offer.UnitPrice, offer.Quantity)
	if err != nil {
		return fmt.Errorf("upsert price list offer: %w", err)
	}
	if offer.ID == 0 {
		offer.ID, _ = res.LastInsertId()
	}
	return nil
}

// ListOffersForComputo returns the offers of one return.
func (s *Store) ListOffersForComputo(ctx context.Context, q dbtx, computoID int64) ([]model.PriceListOffer, error) {
	return s.queryOffers(ctx, q, `WHERE computo_id = ? ORDER BY id`, computoID)
}

// ListOffersForItem returns every offer targeting one catalog line,
// ordered by round asc, label asc, updated_at desc.
func (s *Store) ListOffersForItem(ctx context.Context, itemID int64) ([]model.PriceListOffer, error) {
	return s.queryOffers(ctx, nil,
		`WHERE price_list_item_id = ? ORDER BY round_number ASC, impresa_label ASC, updated_at DESC`,
		itemID)
}

// OffersByItemForComputo maps item id → offer for one return.
func (s *Store) OffersByItemForComputo(ctx context.Context, q dbtx, computoID int64) (map[int64]model.PriceListOffer, error) {
	offers, err := s.ListOffersForComputo(ctx, q, computoID)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]model.PriceListOffer, len(offers))
	for _, o := range offers {
		out[o.PriceListItemID] = o
	}
	return out, nil
}

func (s *Store) queryOffers(ctx context.Context, q dbtx, where string, args ...any) ([]model.PriceListOffer, error) {
	if q == nil {
		q = s.db
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, price_list_item_id, commessa_id, computo_id, impresa_id, impresa_label,
			round_number, unit_price, quantity, created_at, updated_at
		FROM price_list_offers `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.PriceListOffer
	for rows.Next() {
		var o model.PriceListOffer
		if err := rows.Scan(&o.ID, &o.PriceListItemID, &o.CommessaID, &o.ComputoID,
			&o.ImpresaID, &o.ImpresaLabel, &o.RoundNumber, &o.UnitPrice, &o.Quantity,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func marshalJSONColumn(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	if string(data) == "null" || string(data) == "{}" {
		return nil, nil
	}
	return string(data), nil
}
