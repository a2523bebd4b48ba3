package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var errSchema = errors.New("request does not conform to schema")

const schemaCheckout = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["shipping_address", "payment_method"],
  "properties": {
    "shipping_address": { "type": "string", "minLength": 1, "maxLength": 1000 },
    "payment_method": { "type": "string", "minLength": 1, "maxLength": 64 },
    "email": { "type": "string", "maxLength": 254 },
    "mobile": { "type": "string", "maxLength": 32 }
  },
  "additionalProperties": false
}`

const schemaCartItem = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["product_id", "quantity"],
  "properties": {
    "product_id": { "type": "integer", "minimum": 1 },
    "quantity": { "type": "integer", "minimum": 1 }
  },
  "additionalProperties": false
}`

const schemaCartQuantity = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["quantity"],
  "properties": {
    "quantity": { "type": "integer", "minimum": 1 }
  },
  "additionalProperties": false
}`

const schemaFulfillment = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": { "type": "string", "enum": ["shipped", "delivered"] }
  },
  "additionalProperties": false
}`

var (
	checkoutLoader     = gojsonschema.NewStringLoader(schemaCheckout)
	cartItemLoader     = gojsonschema.NewStringLoader(schemaCartItem)
	cartQuantityLoader = gojsonschema.NewStringLoader(schemaCartQuantity)
	fulfillmentLoader  = gojsonschema.NewStringLoader(schemaFulfillment)
)

func validateJSONSchema(schemaLoader gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", errSchema, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", errSchema, strings.Join(msgs, "; "))
	}
	return nil
}
