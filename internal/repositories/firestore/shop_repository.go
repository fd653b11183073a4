package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
	pfirestore "github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/firestore"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories"
)

const shopsCollection = "shops"

var _ repositories.ShopRepository = (*ShopRepository)(nil)

// ShopRepository reads shop records maintained by the shop onboarding flow.
type ShopRepository struct {
	base *pfirestore.BaseRepository[shopDocument]
}

// NewShopRepository constructs a Firestore-backed shop repository.
func NewShopRepository(provider *pfirestore.Provider) (*ShopRepository, error) {
	if provider == nil {
		return nil, errors.New("shop repository requires firestore provider")
	}
	return &ShopRepository{base: pfirestore.NewBaseRepository[shopDocument](provider, shopsCollection)}, nil
}

// FindShop implements repositories.ShopRepository.
func (r *ShopRepository) FindShop(ctx context.Context, shopID string) (domain.Shop, error) {
	doc, err := r.base.Get(ctx, shopID)
	if err != nil {
		return domain.Shop{}, err
	}
	return toDomainShop(doc.ID, doc.Data), nil
}

// SaveShop upserts a shop record. It backs seeding and the integration tests.
func (r *ShopRepository) SaveShop(ctx context.Context, shop domain.Shop) error {
	return r.base.Set(ctx, shop.ID, fromDomainShop(shop))
}

type shopDocument struct {
	Name        string           `firestore:"name"`
	Pricing     *pricingDocument `firestore:"pricing,omitempty"`
	OperatorIDs []string         `firestore:"operatorIds"`
	CreatedAt   time.Time        `firestore:"createdAt"`
	UpdatedAt   time.Time        `firestore:"updatedAt"`
}

type pricingDocument struct {
	BWPricePerPage    int64 `firestore:"bwPricePerPagePaise"`
	ColorPricePerPage int64 `firestore:"colorPricePerPagePaise"`
	DuplexModifierBps int64 `firestore:"duplexModifierBps"`
}

func toDomainShop(id string, doc shopDocument) domain.Shop {
	shop := domain.Shop{
		ID:          id,
		Name:        doc.Name,
		OperatorIDs: append([]string(nil), doc.OperatorIDs...),
		CreatedAt:   doc.CreatedAt.UTC(),
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}
	if doc.Pricing != nil {
		shop.Pricing = &domain.PricingConfig{
			BWPricePerPage:    domain.Money(doc.Pricing.BWPricePerPage),
			ColorPricePerPage: domain.Money(doc.Pricing.ColorPricePerPage),
			DuplexModifierBps: doc.Pricing.DuplexModifierBps,
		}
	}
	return shop
}

func fromDomainShop(shop domain.Shop) shopDocument {
	doc := shopDocument{
		Name:        shop.Name,
		OperatorIDs: append([]string(nil), shop.OperatorIDs...),
		CreatedAt:   shop.CreatedAt.UTC(),
		UpdatedAt:   shop.UpdatedAt.UTC(),
	}
	if shop.Pricing != nil {
		doc.Pricing = &pricingDocument{
			BWPricePerPage:    shop.Pricing.BWPricePerPage.Paise(),
			ColorPricePerPage: shop.Pricing.ColorPricePerPage.Paise(),
			DuplexModifierBps: shop.Pricing.DuplexModifierBps,
		}
	}
	return doc
}
