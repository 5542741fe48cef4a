package shopify

const companyFields = `
	id
	externalId
	name
	salesRep: metafield(namespace: "b2b_sync", key: "sales_rep") { value }
	priceTier: metafield(namespace: "b2b_sync", key: "price_tier") { value }`

const locationFields = `
	id
	externalId
	company { id }
	name
	shippingAddress { address1 city zoneCode zip countryCode }
	currency: metafield(namespace: "b2b_sync", key: "currency_code") { value }
	paymentTerms: metafield(namespace: "b2b_sync", key: "payment_terms") { value }
	taxNotes: metafield(namespace: "b2b_sync", key: "tax_notes") { value }`

const userErrorFields = `userErrors { field message code }`

var (
	queryCompanies = `query Companies($q: String!) {
  companies(first: 5, query: $q) { nodes {` + companyFields + ` } }
}`

	mutationCompanyCreate = `mutation CompanyCreate($input: CompanyCreateInput!) {
  companyCreate(input: $input) { company {` + companyFields + ` } ` + userErrorFields + ` }
}`

	mutationCompanyUpdate = `mutation CompanyUpdate($id: ID!, $input: CompanyInput!) {
  companyUpdate(companyId: $id, input: $input) { company {` + companyFields + ` } ` + userErrorFields + ` }
}`

	mutationMetafieldsSet = `mutation MetafieldsSet($metafields: [MetafieldsSetInput!]!) {
  metafieldsSet(metafields: $metafields) { metafields { key } userErrors { field message code } }
}`

	queryCustomers = `query Customers($q: String!) {
  customers(first: 5, query: $q) { nodes { id email firstName lastName } }
}`

	mutationContactCreate = `mutation ContactCreate($companyId: ID!, $input: CompanyContactInput!) {
  companyContactCreate(companyId: $companyId, input: $input) {
    companyContact { id customer { id } } ` + userErrorFields + `
  }
}`

	mutationAssignCustomer = `mutation AssignCustomer($companyId: ID!, $customerId: ID!) {
  companyAssignCustomerAsContact(companyId: $companyId, customerId: $customerId) {
    companyContact { id customer { id } } ` + userErrorFields + `
  }
}`

	queryCustomerContacts = `query CustomerContacts($id: ID!) {
  customer(id: $id) { companyContactProfiles { id company { id } } }
}`

	queryLocationsByExternalID = `query LocationsByExternalID($id: ID!, $q: String!) {
  company(id: $id) { locations(first: 5, query: $q) { nodes {` + locationFields + ` } } }
}`

	queryLocations = `query Locations($id: ID!) {
  company(id: $id) { locations(first: 50) { nodes {` + locationFields + ` } } }
}`

	mutationLocationCreate = `mutation LocationCreate($companyId: ID!, $input: CompanyLocationInput!) {
  companyLocationCreate(companyId: $companyId, input: $input) {
    companyLocation {` + locationFields + ` } ` + userErrorFields + `
  }
}`

	mutationLocationUpdate = `mutation LocationUpdate($id: ID!, $input: CompanyLocationUpdateInput!) {
  companyLocationUpdate(companyLocationId: $id, input: $input) {
    companyLocation { id } ` + userErrorFields + `
  }
}`

	mutationLocationAssignAddress = `mutation LocationAssignAddress($id: ID!, $address: CompanyAddressInput!) {
  companyLocationAssignAddress(locationId: $id, address: $address, addressTypes: [BILLING, SHIPPING]) {
    addresses { id } ` + userErrorFields + `
  }
}`

	queryLocation = `query Location($id: ID!) {
  companyLocation(id: $id) {` + locationFields + ` }
}`

	queryContactAssignments = `query ContactAssignments($id: ID!) {
  companyContact(id: $id) { roleAssignments(first: 50) { nodes { id companyLocation { id } } } }
}`

	mutationAssignRole = `mutation AssignRole($contactId: ID!, $roleId: ID!, $locationId: ID!) {
  companyContactAssignRole(companyContactId: $contactId, companyContactRoleId: $roleId, companyLocationId: $locationId) {
    companyContactRoleAssignment { id } ` + userErrorFields + `
  }
}`

	queryContactRoles = `query ContactRoles($id: ID!) {
  company(id: $id) { contactRoles(first: 20) { nodes { id name } } }
}`
)
