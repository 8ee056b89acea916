package planner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relquery/internal/relmeta"
)

func TestBuildDirectWithoutPagination(t *testing.T) {
	p := testPlanner(t)

	// Multiplying joins are fine when nothing is paginated.
	plan := mustBuild(t, p, FindInput{Entity: "Invoice", Relations: []string{"details"}})
	assert.Equal(t, PlanDirect, plan.Mode)
	require.NotNil(t, plan.Query)
	assert.Nil(t, plan.Probe)
	assert.Contains(t, plan.Query.SQL,
		"LEFT JOIN `invoice_details` AS `invoice_details` ON `invoice`.`id` = `invoice_details`.`invoice_id`")
	assert.Contains(t, plan.Query.SQL, "`invoice_details`.`price` AS `invoice_details__price`")
}

func TestBuildDirectWhenGraphCannotMultiply(t *testing.T) {
	p := testPlanner(t)

	plan := mustBuild(t, p, FindInput{Entity: "Tag", Pagination: &Pagination{Take: intp(10)}})
	assert.Equal(t, PlanDirect, plan.Mode)
	assert.Contains(t, plan.Query.SQL, "LIMIT 10")
}

func TestBuildDirectWhenMultiplyingNotReferenced(t *testing.T) {
	p := testPlanner(t)

	// Invoice has multiplying relations, but this request only touches the
	// to-one client, so one query stays correct.
	plan := mustBuild(t, p, FindInput{
		Entity:     "Invoice",
		Relations:  []string{"client"},
		Where:      Where{"total": map[string]interface{}{"_gte": 100}},
		Pagination: &Pagination{Take: intp(10)},
	})
	assert.Equal(t, PlanDirect, plan.Mode)
	assert.Nil(t, plan.Probe)
	assert.Contains(t, plan.Query.SQL, "LEFT JOIN `clients`")
	assert.Contains(t, plan.Query.SQL, "LIMIT 10")
}

func TestBuildTwoPhaseForPaginatedMultiplyingJoin(t *testing.T) {
	p := testPlanner(t)

	plan := mustBuild(t, p, FindInput{
		Entity:     "Invoice",
		Relations:  []string{"details", "client"},
		OrderBy:    map[string]interface{}{"date": "DESC"},
		Pagination: &Pagination{Skip: intp(10), Take: intp(10)},
	})
	assert.Equal(t, PlanTwoPhase, plan.Mode)
	assert.Nil(t, plan.Query)
	require.NotNil(t, plan.Probe)

	// The probe pages over distinct root keys with only the to-one join;
	// it must not touch the multiplying details table.
	assert.Equal(t, "SELECT DISTINCT `invoice`.`id` AS `invoice__id`, `invoice`.`date` AS `invoice__date` "+
		"FROM `invoices` AS `invoice` "+
		"LEFT JOIN `clients` AS `invoice_client` ON `invoice`.`client_id` = `invoice_client`.`id` "+
		"ORDER BY `invoice`.`date` DESC LIMIT 10 OFFSET 10", plan.Probe.SQL)
	assert.Empty(t, plan.Probe.Args)
	require.Len(t, plan.ProbeKeys, 1)
	assert.Equal(t, "invoice__id", plan.ProbeKeys[0].Label)

	// The fetch side carries every join and select, in registration order.
	require.Len(t, plan.Joins, 2)
	assert.Equal(t, "details", plan.Joins[0].RootPath)
	assert.Equal(t, relmeta.OneToMany, plan.Joins[0].Kind)
	assert.True(t, plan.Joins[0].Selected)
	assert.Equal(t, "client", plan.Joins[1].RootPath)

	fetch, err := plan.FetchByKeys([]KeyTuple{{Values: []interface{}{1}}, {Values: []interface{}{2}}})
	require.NoError(t, err)
	assert.Contains(t, fetch.SQL, "LEFT JOIN `invoice_details` AS `invoice_details`")
	assert.Contains(t, fetch.SQL, "LEFT JOIN `clients` AS `invoice_client`")
	assert.Contains(t, fetch.SQL, "WHERE `invoice`.`id` IN (?,?)")
	assert.Contains(t, fetch.SQL, "ORDER BY `invoice`.`date` DESC")
	assert.NotContains(t, fetch.SQL, "LIMIT")
	assert.NotContains(t, fetch.SQL, "OFFSET")
	assert.Equal(t, []interface{}{1, 2}, fetch.Args)
}

func TestTwoPhaseProbeCarriesFilter(t *testing.T) {
	p := testPlanner(t)

	plan := mustBuild(t, p, FindInput{
		Entity:    "Invoice",
		Relations: []string{"details"},
		Where: Where{"client": map[string]interface{}{
			"name": map[string]interface{}{"_startswith": "A"},
		}},
		Pagination: &Pagination{Take: intp(5)},
	})
	require.Equal(t, PlanTwoPhase, plan.Mode)
	assert.Contains(t, plan.Probe.SQL, "WHERE `invoice_client`.`name` LIKE ?")
	assert.Equal(t, []interface{}{"A%"}, plan.Probe.Args)

	// The fetched page is fixed by the probed keys; the filter is not
	// applied twice.
	fetch, err := plan.FetchByKeys([]KeyTuple{{Values: []interface{}{3}}})
	require.NoError(t, err)
	assert.NotContains(t, fetch.SQL, "LIKE")
	assert.Equal(t, []interface{}{3}, fetch.Args)
}

func TestTwoPhaseProbeSelectsOrderColumnOnce(t *testing.T) {
	p := testPlanner(t)

	plan := mustBuild(t, p, FindInput{
		Entity:     "Invoice",
		Relations:  []string{"details"},
		OrderBy:    map[string]interface{}{"id": "ASC"},
		Pagination: &Pagination{Take: intp(5)},
	})
	require.Equal(t, PlanTwoPhase, plan.Mode)
	assert.Equal(t, 1, strings.Count(plan.Probe.SQL, "`invoice__id`"))
}

func TestFetchByKeysErrors(t *testing.T) {
	p := testPlanner(t)

	direct := mustBuild(t, p, FindInput{Entity: "Tag"})
	_, err := direct.FetchByKeys([]KeyTuple{{Values: []interface{}{1}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryIntegrity)

	twoPhase := mustBuild(t, p, FindInput{
		Entity:     "Invoice",
		Relations:  []string{"details"},
		Pagination: &Pagination{Take: intp(5)},
	})
	_, err = twoPhase.FetchByKeys(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryIntegrity)
	assert.Contains(t, err.Error(), "at least one key")
}

func TestTwoPhaseRequiresPrimaryKey(t *testing.T) {
	p := testPlanner(t)

	_, err := p.Build(FindInput{
		Entity:     "EventLog",
		Relations:  []string{"tags"},
		Pagination: &Pagination{Take: intp(5)},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPrimaryKey)
}

func TestBuildTupleInCondition(t *testing.T) {
	cond, err := buildTupleInCondition([]string{"`invoice`.`id`"}, []KeyTuple{
		{Values: []interface{}{1}},
		{Values: []interface{}{2}},
	})
	require.NoError(t, err)
	sql, args, err := cond.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "`invoice`.`id` IN (?,?)", sql)
	assert.Equal(t, []interface{}{1, 2}, args)

	cond, err = buildTupleInCondition([]string{"`s`.`a`", "`s`.`b`"}, []KeyTuple{
		{Values: []interface{}{1, "x"}},
		{Values: []interface{}{2, "y"}},
	})
	require.NoError(t, err)
	sql, args, err = cond.ToSql()
	require.NoError(t, err)
	assert.Equal(t, "(`s`.`a`, `s`.`b`) IN ((?, ?), (?, ?))", sql)
	assert.Equal(t, []interface{}{1, "x", 2, "y"}, args)

	_, err = buildTupleInCondition([]string{"`s`.`a`"}, []KeyTuple{{Values: []interface{}{1, 2}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryIntegrity)

	_, err = buildTupleInCondition([]string{"`s`.`a`", "`s`.`b`"}, []KeyTuple{{Values: []interface{}{1}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryIntegrity)
}

func TestBuildCount(t *testing.T) {
	p := testPlanner(t)

	q, err := p.BuildCount("Invoice", Where{"total": map[string]interface{}{"_gte": 100}})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT COUNT(*) FROM (SELECT 1 FROM `invoices` AS `invoice` WHERE `invoice`.`total` >= ?) AS __count",
		q.SQL)
	assert.Equal(t, []interface{}{100}, q.Args)

	q, err = p.BuildCount("Invoice", Where{"client": map[string]interface{}{"name": "Acme"}})
	require.NoError(t, err)
	assert.Contains(t, q.SQL, "LEFT JOIN `clients` AS `invoice_client`")
	assert.Contains(t, q.SQL, "WHERE `invoice_client`.`name` = ?")

	_, err = p.BuildCount("Ghost", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = p.BuildCount("Invoice", Where{"details": map[string]interface{}{"price": 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryIntegrity)
}
