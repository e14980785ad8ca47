package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/commerce-core/internal/domain"
	"github.com/xenking/commerce-core/internal/domain/coupon"
	"github.com/xenking/commerce-core/internal/domain/pricing"
	"github.com/xenking/commerce-core/internal/metrics"
)

type criterionBody struct {
	Kind      string
	Target    string
	Direction string
}

func (c *criterionBody) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "kind":
			c.Kind, err = d.Str()
		case "target":
			c.Target, err = decodeOptStr(d)
		case "direction":
			c.Direction, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

type discountBody struct {
	pricing.Discount
}

func (b *discountBody) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "type":
			var s string
			s, err = d.Str()
			b.Type = pricing.DiscountType(s)
		case "value":
			b.Value, err = decodeAmount(d)
		case "threshold":
			b.Threshold, err = decodeAmount(d)
		case "limit":
			b.Limit, err = decodeAmount(d)
		case "validFrom":
			b.ValidFrom, err = decodeTime(d)
		case "validUntil":
			b.ValidUntil, err = decodeTime(d)
		default:
			err = d.Skip()
		}
		return err
	})
}

type createCouponRequest struct {
	Name             string
	Discount         discountBody
	Volume           *int
	VolumePerCitizen *int
	ExpiredAt        *time.Time
	ExpiredIn        string
	Criteria         []criterionBody
}

func (req *createCouponRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "name":
			req.Name, err = d.Str()
		case "discount":
			err = req.Discount.Decode(d)
		case "volume":
			req.Volume, err = decodeOptInt(d)
		case "volumePerCitizen":
			req.VolumePerCitizen, err = decodeOptInt(d)
		case "expiredAt":
			req.ExpiredAt, err = decodeTime(d)
		case "expiredIn":
			req.ExpiredIn, err = decodeOptStr(d)
		case "criteria":
			err = d.Arr(func(d *jx.Decoder) error {
				var c criterionBody
				if err := c.Decode(d); err != nil {
					return err
				}
				req.Criteria = append(req.Criteria, c)
				return nil
			})
		default:
			err = d.Skip()
		}
		return err
	})
}

func (req *createCouponRequest) coupon() (*coupon.Coupon, error) {
	c := &coupon.Coupon{
		Name:             req.Name,
		Discount:         req.Discount.Discount,
		Volume:           req.Volume,
		VolumePerCitizen: req.VolumePerCitizen,
		ExpiredAt:        req.ExpiredAt,
	}
	if req.ExpiredIn != "" {
		d, err := time.ParseDuration(req.ExpiredIn)
		if err != nil {
			return nil, domain.Invalid("expiredIn", "not a duration")
		}
		c.ExpiredIn = &d
	}
	for i, body := range req.Criteria {
		scope, err := coupon.NewScope(coupon.Kind(body.Kind), body.Target)
		if err != nil {
			return nil, domain.Invalid(fmt.Sprintf("criteria[%d].kind", i), err.Error())
		}
		c.Criteria = append(c.Criteria, coupon.Criterion{
			Scope:     scope,
			Direction: coupon.Direction(body.Direction),
		})
	}
	return c, nil
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := req.coupon()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.coupons.Create(r.Context(), c); err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	encStr(&e, "id", c.ID)
	encStr(&e, "name", c.Name)
	e.ObjEnd()
	writeJSON(w, http.StatusCreated, &e)
}

type ticketRequest struct {
	UserID string
	Code   string
}

func (req *ticketRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "userId":
			req.UserID, err = d.Str()
		case "code":
			req.Code, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
}

func encodeTicket(t *coupon.Ticket) *jx.Encoder {
	e := &jx.Encoder{}
	e.ObjStart()
	encStr(e, "id", t.ID)
	encStr(e, "couponId", t.CouponID)
	encStr(e, "userId", t.UserID)
	e.FieldStart("private")
	e.Bool(t.Private())
	encTime(e, "expiredAt", t.ExpiredAt)
	e.ObjEnd()
	return e
}

func (h *Handler) issueTicket(w http.ResponseWriter, r *http.Request) {
	var req ticketRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.UserID == "" {
		writeError(w, r, domain.Invalid("userId", "required"))
		return
	}

	t, err := h.coupons.IssuePublic(r.Context(), r.PathValue("id"), req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.metrics.TicketIssued(r.Context(), metrics.PathPublic)
	writeJSON(w, http.StatusCreated, encodeTicket(t))
}

func (h *Handler) redeemCode(w http.ResponseWriter, r *http.Request) {
	var req ticketRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	switch {
	case req.UserID == "":
		writeError(w, r, domain.Invalid("userId", "required"))
		return
	case req.Code == "":
		writeError(w, r, domain.Invalid("code", "required"))
		return
	}

	t, err := h.coupons.RedeemCode(r.Context(), r.PathValue("id"), req.Code, req.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.metrics.TicketIssued(r.Context(), metrics.PathPrivate)
	writeJSON(w, http.StatusCreated, encodeTicket(t))
}

type codesRequest struct {
	Count     int
	ExpiredAt *time.Time
}

func (req *codesRequest) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) (err error) {
		switch string(key) {
		case "count":
			req.Count, err = d.Int()
		case "expiredAt":
			req.ExpiredAt, err = decodeTime(d)
		default:
			err = d.Skip()
		}
		return err
	})
}

func (h *Handler) generateCodes(w http.ResponseWriter, r *http.Request) {
	var req codesRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Count <= 0 || req.Count > h.cfg.MaxCodes {
		writeError(w, r, domain.Invalid("count", fmt.Sprintf("must be between 1 and %d", h.cfg.MaxCodes)))
		return
	}
	if req.ExpiredAt != nil && !req.ExpiredAt.After(h.now()) {
		writeError(w, r, domain.Invalid("expiredAt", "must be in the future"))
		return
	}

	codes, err := h.codes.Generate(r.Context(), r.PathValue("id"), req.Count, req.ExpiredAt)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("codes")
	e.ArrStart()
	for _, c := range codes {
		e.ObjStart()
		encStr(&e, "id", c.ID)
		encStr(&e, "code", c.Code)
		encTime(&e, "expiredAt", c.ExpiredAt)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
	writeJSON(w, http.StatusCreated, &e)
}
