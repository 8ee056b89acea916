package introspection

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relquery/internal/naming"
	"relquery/internal/relmeta"
)

// billingTables models a small invoicing schema: to-one and to-many
// relations, a unique-FK profile table, a pure junction, and a view.
func billingTables() []Table {
	return []Table{
		{
			Name:   "audit_view",
			IsView: true,
			Columns: []Column{
				{Name: "entry", DataType: "varchar", ColumnType: "varchar(255)"},
			},
		},
		{
			Name: "client_profiles",
			Columns: []Column{
				{Name: "id", DataType: "int", ColumnType: "int", IsPrimaryKey: true, IsAutoIncrement: true},
				{Name: "client_id", DataType: "int", ColumnType: "int"},
				{Name: "bio", DataType: "text", ColumnType: "text", IsNullable: true},
			},
			ForeignKeys: []ForeignKey{
				{ConstraintName: "fk_profile_client", ColumnName: "client_id", ReferencedTable: "clients", ReferencedColumn: "id", OrdinalPosition: 1, DeleteRule: "CASCADE"},
			},
			Indexes: []Index{
				{Name: "uq_profile_client", Unique: true, Columns: []string{"client_id"}},
			},
		},
		{
			Name: "clients",
			Columns: []Column{
				{Name: "id", DataType: "int", ColumnType: "int", IsPrimaryKey: true, IsAutoIncrement: true},
				{Name: "name", DataType: "varchar", ColumnType: "varchar(150)"},
				{Name: "country_id", DataType: "int", ColumnType: "int"},
			},
			ForeignKeys: []ForeignKey{
				{ConstraintName: "fk_client_country", ColumnName: "country_id", ReferencedTable: "countries", ReferencedColumn: "id", OrdinalPosition: 1, DeleteRule: "RESTRICT"},
			},
		},
		{
			Name: "countries",
			Columns: []Column{
				{Name: "id", DataType: "int", ColumnType: "int", IsPrimaryKey: true},
				{Name: "code", DataType: "char", ColumnType: "char(2)"},
			},
		},
		{
			Name: "invoice_details",
			Columns: []Column{
				{Name: "id", DataType: "int", ColumnType: "int", IsPrimaryKey: true, IsAutoIncrement: true},
				{Name: "invoice_id", DataType: "int", ColumnType: "int"},
				{Name: "product_id", DataType: "int", ColumnType: "int"},
				{Name: "quantity", DataType: "int", ColumnType: "int"},
			},
			ForeignKeys: []ForeignKey{
				{ConstraintName: "fk_detail_invoice", ColumnName: "invoice_id", ReferencedTable: "invoices", ReferencedColumn: "id", OrdinalPosition: 1, DeleteRule: "CASCADE"},
				{ConstraintName: "fk_detail_product", ColumnName: "product_id", ReferencedTable: "products", ReferencedColumn: "id", OrdinalPosition: 1, DeleteRule: "RESTRICT"},
			},
		},
		{
			Name: "invoices",
			Columns: []Column{
				{Name: "id", DataType: "int", ColumnType: "int", IsPrimaryKey: true, IsAutoIncrement: true},
				{Name: "date", DataType: "datetime", ColumnType: "datetime"},
				{Name: "total", DataType: "decimal", ColumnType: "decimal(10,2)"},
				{Name: "client_id", DataType: "int", ColumnType: "int", IsNullable: true},
				{Name: "public_id", DataType: "binary", ColumnType: "binary(16)", IsUUID: true},
			},
			ForeignKeys: []ForeignKey{
				{ConstraintName: "fk_invoice_client", ColumnName: "client_id", ReferencedTable: "clients", ReferencedColumn: "id", OrdinalPosition: 1, DeleteRule: "SET NULL"},
			},
		},
		{
			Name: "products",
			Columns: []Column{
				{Name: "id", DataType: "int", ColumnType: "int", IsPrimaryKey: true, IsAutoIncrement: true},
				{Name: "name", DataType: "varchar", ColumnType: "varchar(100)"},
				{Name: "image", DataType: "blob", ColumnType: "blob", IsNullable: true},
			},
		},
		{
			Name: "product_tags",
			Columns: []Column{
				{Name: "product_id", DataType: "int", ColumnType: "int", IsPrimaryKey: true},
				{Name: "tag_id", DataType: "int", ColumnType: "int", IsPrimaryKey: true},
			},
			ForeignKeys: []ForeignKey{
				{ConstraintName: "fk_pt_product", ColumnName: "product_id", ReferencedTable: "products", ReferencedColumn: "id", OrdinalPosition: 1, DeleteRule: "CASCADE"},
				{ConstraintName: "fk_pt_tag", ColumnName: "tag_id", ReferencedTable: "tags", ReferencedColumn: "id", OrdinalPosition: 1, DeleteRule: "CASCADE"},
			},
		},
		{
			Name: "tags",
			Columns: []Column{
				{Name: "id", DataType: "int", ColumnType: "int", IsPrimaryKey: true, IsAutoIncrement: true},
				{Name: "label", DataType: "varchar", ColumnType: "varchar(50)"},
			},
		},
	}
}

func buildBillingEntities(t *testing.T) *relmeta.Schema {
	t.Helper()
	tables := billingTables()
	junctions := classifyJunctions(tables)
	entities := buildEntities(tables, junctions, naming.Default(), slog.Default())
	return relmeta.NewSchema(entities...)
}

func TestBuildEntitiesNamesAndFields(t *testing.T) {
	schema := buildBillingEntities(t)

	invoice := schema.Entity("Invoice")
	require.NotNil(t, invoice)
	assert.Equal(t, "invoices", invoice.Table)

	id := invoice.Field("id")
	require.NotNil(t, id)
	assert.Equal(t, relmeta.FieldInt, id.Type)
	assert.True(t, id.PrimaryKey)
	assert.True(t, id.AutoIncrement)

	clientID := invoice.Field("clientId")
	require.NotNil(t, clientID)
	assert.Equal(t, "client_id", clientID.Column)
	assert.True(t, clientID.Nullable)

	publicID := invoice.Field("publicId")
	require.NotNil(t, publicID)
	assert.Equal(t, relmeta.FieldUUID, publicID.Type)

	total := invoice.Field("total")
	require.NotNil(t, total)
	assert.Equal(t, relmeta.FieldDecimal, total.Type)

	date := invoice.Field("date")
	require.NotNil(t, date)
	assert.Equal(t, relmeta.FieldTime, date.Type)
}

func TestBuildEntitiesCollapsesPureJunction(t *testing.T) {
	schema := buildBillingEntities(t)

	assert.Nil(t, schema.EntityByTable("product_tags"))

	product := schema.Entity("Product")
	require.NotNil(t, product)
	tags := product.Relation("tags")
	require.NotNil(t, tags)
	assert.Equal(t, relmeta.ManyToMany, tags.Kind)
	assert.Equal(t, "Tag", tags.Target)
	assert.Equal(t, []string{"id"}, tags.LocalColumns)
	assert.Equal(t, []string{"id"}, tags.RemoteColumns)
	assert.Equal(t, "product_tags", tags.JunctionTable)
	assert.Equal(t, []string{"product_id"}, tags.JunctionLocalColumns)
	assert.Equal(t, []string{"tag_id"}, tags.JunctionRemoteColumns)

	tag := schema.Entity("Tag")
	require.NotNil(t, tag)
	products := tag.Relation("products")
	require.NotNil(t, products)
	assert.Equal(t, relmeta.ManyToMany, products.Kind)
	assert.Equal(t, "Product", products.Target)
	assert.Equal(t, []string{"tag_id"}, products.JunctionLocalColumns)
	assert.Equal(t, []string{"product_id"}, products.JunctionRemoteColumns)
}

func TestBuildEntitiesToOneAndInverse(t *testing.T) {
	schema := buildBillingEntities(t)

	invoice := schema.Entity("Invoice")
	require.NotNil(t, invoice)

	client := invoice.Relation("client")
	require.NotNil(t, client)
	assert.Equal(t, relmeta.ManyToOne, client.Kind)
	assert.Equal(t, "Client", client.Target)
	assert.Equal(t, []string{"client_id"}, client.LocalColumns)
	assert.Equal(t, []string{"id"}, client.RemoteColumns)
	assert.True(t, client.Nullable, "nullable FK column should mark the relation nullable")

	details := invoice.Relation("invoiceDetails")
	require.NotNil(t, details)
	assert.Equal(t, relmeta.OneToMany, details.Kind)
	assert.Equal(t, "InvoiceDetail", details.Target)
	assert.Equal(t, []string{"id"}, details.LocalColumns)
	assert.Equal(t, []string{"invoice_id"}, details.RemoteColumns)
	assert.True(t, details.Cascade, "ON DELETE CASCADE should mark the inverse relation")

	clientEntity := schema.Entity("Client")
	require.NotNil(t, clientEntity)
	invoices := clientEntity.Relation("invoices")
	require.NotNil(t, invoices)
	assert.Equal(t, relmeta.OneToMany, invoices.Kind)
	assert.False(t, invoices.Cascade, "ON DELETE SET NULL is not a cascade")
}

func TestBuildEntitiesUniqueFKBecomesOneToOne(t *testing.T) {
	schema := buildBillingEntities(t)

	profile := schema.Entity("ClientProfile")
	require.NotNil(t, profile)
	owner := profile.Relation("client")
	require.NotNil(t, owner)
	assert.Equal(t, relmeta.OneToOne, owner.Kind)

	client := schema.Entity("Client")
	require.NotNil(t, client)
	inverse := client.Relation("clientProfile")
	require.NotNil(t, inverse)
	assert.Equal(t, relmeta.OneToOne, inverse.Kind)
	assert.Equal(t, "ClientProfile", inverse.Target)
	assert.Equal(t, []string{"id"}, inverse.LocalColumns)
	assert.Equal(t, []string{"client_id"}, inverse.RemoteColumns)
	assert.True(t, inverse.Nullable, "the profile row may not exist")
}

func TestBuildEntitiesKeepsViewsAsFieldOnlyEntities(t *testing.T) {
	schema := buildBillingEntities(t)

	view := schema.EntityByTable("audit_view")
	require.NotNil(t, view)
	assert.Equal(t, "AuditView", view.Name)
	assert.Len(t, view.Fields, 1)
	assert.Empty(t, view.Relations)
}

func TestBuildEntitiesDisambiguatesRepeatedTargets(t *testing.T) {
	tables := []Table{
		{
			Name: "messages",
			Columns: []Column{
				{Name: "id", DataType: "int", ColumnType: "int", IsPrimaryKey: true},
				{Name: "sender_id", DataType: "int", ColumnType: "int"},
				{Name: "recipient_id", DataType: "int", ColumnType: "int"},
			},
			ForeignKeys: []ForeignKey{
				{ConstraintName: "fk_msg_recipient", ColumnName: "recipient_id", ReferencedTable: "users", ReferencedColumn: "id", OrdinalPosition: 1},
				{ConstraintName: "fk_msg_sender", ColumnName: "sender_id", ReferencedTable: "users", ReferencedColumn: "id", OrdinalPosition: 1},
			},
		},
		{
			Name: "users",
			Columns: []Column{
				{Name: "id", DataType: "int", ColumnType: "int", IsPrimaryKey: true},
			},
		},
	}

	entities := buildEntities(tables, nil, naming.Default(), slog.Default())
	schema := relmeta.NewSchema(entities...)

	message := schema.Entity("Message")
	require.NotNil(t, message)
	assert.NotNil(t, message.Relation("recipient"))
	assert.NotNil(t, message.Relation("sender"))

	user := schema.Entity("User")
	require.NotNil(t, user)
	assert.NotNil(t, user.Relation("recipientMessages"))
	assert.NotNil(t, user.Relation("senderMessages"))
	assert.Nil(t, user.Relation("messages"))
}

func TestBuildEntitiesSkipsCompositeInverse(t *testing.T) {
	tables := []Table{
		{
			Name: "memberships",
			Columns: []Column{
				{Name: "tenant_id", DataType: "int", ColumnType: "int", IsPrimaryKey: true},
				{Name: "user_id", DataType: "int", ColumnType: "int", IsPrimaryKey: true},
				{Name: "role", DataType: "varchar", ColumnType: "varchar(20)"},
			},
			ForeignKeys: []ForeignKey{
				{ConstraintName: "fk_member_user", ColumnName: "tenant_id", ReferencedTable: "users", ReferencedColumn: "tenant_id", OrdinalPosition: 1},
				{ConstraintName: "fk_member_user", ColumnName: "user_id", ReferencedTable: "users", ReferencedColumn: "id", OrdinalPosition: 2},
			},
		},
		{
			Name: "users",
			Columns: []Column{
				{Name: "tenant_id", DataType: "int", ColumnType: "int", IsPrimaryKey: true},
				{Name: "id", DataType: "int", ColumnType: "int", IsPrimaryKey: true},
			},
		},
	}

	entities := buildEntities(tables, nil, naming.Default(), slog.Default())
	schema := relmeta.NewSchema(entities...)

	// The to-one side supports composite FKs; it is named from the first
	// FK column and here the membership PK makes it one-to-one.
	membership := schema.Entity("Membership")
	require.NotNil(t, membership)
	toOne := membership.Relation("tenant")
	require.NotNil(t, toOne, "composite to-one relations are supported")
	assert.Equal(t, relmeta.OneToOne, toOne.Kind)
	assert.Equal(t, []string{"tenant_id", "user_id"}, toOne.LocalColumns)
	assert.Equal(t, []string{"tenant_id", "id"}, toOne.RemoteColumns)

	user := schema.Entity("User")
	require.NotNil(t, user)
	assert.Empty(t, user.Relations, "composite inverse relations are skipped")
}
