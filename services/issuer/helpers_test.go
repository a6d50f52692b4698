package issuer

import "habitcoin/pkg/db/pagination"

func paginationOf(limit int) pagination.Pagination {
	return pagination.Pagination{Limit: limit}
}
