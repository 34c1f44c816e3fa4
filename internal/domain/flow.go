package domain

// FlowState is the current stage of the shopping journey. Exactly one value
// exists per active session; the text heuristic and the tool-call pass both
// write it, last writer wins.
type FlowState string

const (
	FlowInitial            FlowState = "initial"
	FlowBrowsingCategories FlowState = "browsing_categories"
	FlowBrowsingProducts   FlowState = "browsing_products"
	FlowViewingProduct     FlowState = "viewing_product"
	FlowCart               FlowState = "cart"
	FlowCheckout           FlowState = "checkout"
)

// Panel identifies which storefront view the UI should show.
type Panel string

const (
	PanelChat          Panel = "chat"
	PanelProductList   Panel = "product-list"
	PanelProductDetail Panel = "product-detail"
	PanelCart          Panel = "cart"
	PanelCheckout      Panel = "checkout"
)
